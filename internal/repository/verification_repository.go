package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"
	"github.com/smsregister/smsregister/internal/models"
)

// VerificationRepository stores verification records in DynamoDB.
type VerificationRepository struct {
	client    DynamoDBAPI
	tableName string
	retention time.Duration
	logger    *logrus.Logger
}

func NewVerificationRepository(client DynamoDBAPI, tableName string, retention time.Duration, logger *logrus.Logger) *VerificationRepository {
	return &VerificationRepository{
		client:    client,
		tableName: tableName,
		retention: retention,
		logger:    logger,
	}
}

// Upsert overwrites the record for the phone number with a single PutItem.
func (r *VerificationRepository) Upsert(ctx context.Context, v *models.Verification) error {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return fmt.Errorf("failed to marshal verification: %w", err)
	}

	item["PK"] = stringAttr(v.GetPK())
	item["SK"] = stringAttr(v.GetSK())
	// DynamoDB TTL expiry, well past the validity window
	item[ttlAttr] = &types.AttributeValueMemberN{Value: strconv.FormatInt(v.IssuedAt.Add(r.retention).Unix(), 10)}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})

	if err != nil {
		r.logger.WithError(err).Error("Failed to store verification in DynamoDB")
		return fmt.Errorf("failed to store verification: %w", err)
	}

	return nil
}

// Get retrieves the verification record for a phone number.
func (r *VerificationRepository) Get(ctx context.Context, phoneNumber string) (*models.Verification, error) {
	key := (&models.Verification{PhoneNumber: phoneNumber}).GetPK()

	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            itemKey(key, metadataSK),
		ConsistentRead: aws.Bool(true),
	})

	if err != nil {
		return nil, fmt.Errorf("failed to get verification: %w", err)
	}

	if result.Item == nil {
		return nil, ErrNotFound
	}

	var v models.Verification
	if err := attributevalue.UnmarshalMap(result.Item, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal verification: %w", err)
	}

	return &v, nil
}
