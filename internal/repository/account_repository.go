package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"
	"github.com/smsregister/smsregister/internal/models"
)

// AccountRepository stores accounts in a single DynamoDB table. Every unique
// attribute owns a marker item (PHONE#, USERNAME#, EMAIL#, NICKNAME#) written
// in the same transaction as the account, so uniqueness is enforced by
// conditional writes rather than by read-then-write checks.
type AccountRepository struct {
	client    DynamoDBAPI
	tableName string
	logger    *logrus.Logger
}

func NewAccountRepository(client DynamoDBAPI, tableName string, logger *logrus.Logger) *AccountRepository {
	return &AccountRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

func uniquePK(field, value string) string {
	switch field {
	case FieldPhoneNumber:
		return "PHONE#" + value
	case FieldUsername:
		return "USERNAME#" + value
	case FieldEmail:
		return "EMAIL#" + models.NormalizedEmail(value)
	case FieldNickname:
		return "NICKNAME#" + value
	}
	return field + "#" + value
}

func (r *AccountRepository) putUnique(field, value, accountID string) types.TransactWriteItem {
	item := itemKey(uniquePK(field, value), uniqueSK)
	item["account_id"] = stringAttr(accountID)
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:           aws.String(r.tableName),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		},
	}
}

func (r *AccountRepository) CreatePlaceholder(ctx context.Context, account *models.Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	if !account.IsPlaceholder() {
		return models.ErrInvalidStatus
	}

	item, err := attributevalue.MarshalMap(account)
	if err != nil {
		r.logger.WithError(err).Error("Failed to marshal account for DynamoDB")
		return fmt.Errorf("failed to marshal account: %w", err)
	}
	item["PK"] = stringAttr(account.GetPK())
	item["SK"] = stringAttr(account.GetSK())

	fields := []string{FieldID, FieldPhoneNumber, FieldUsername}
	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(r.tableName),
					Item:                item,
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				},
			},
			r.putUnique(FieldPhoneNumber, account.PhoneNumber, account.ID),
			r.putUnique(FieldUsername, account.Username, account.ID),
		},
	})

	if err != nil {
		if violated := cancelledFields(err, fields); violated != nil {
			return &UniqueViolationError{Fields: violated}
		}
		r.logger.WithError(err).Error("Failed to create placeholder account in DynamoDB")
		return fmt.Errorf("failed to create account: %w", err)
	}

	return nil
}

func (r *AccountRepository) GetByPhoneNumber(ctx context.Context, phoneNumber string) (*models.Account, error) {
	return r.getByUnique(ctx, FieldPhoneNumber, phoneNumber)
}

func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	return r.getByUnique(ctx, FieldUsername, username)
}

func (r *AccountRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	return r.uniqueExists(ctx, FieldUsername, username)
}

func (r *AccountRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	return r.uniqueExists(ctx, FieldEmail, email)
}

func (r *AccountRepository) NicknameExists(ctx context.Context, nickname string) (bool, error) {
	return r.uniqueExists(ctx, FieldNickname, nickname)
}

func (r *AccountRepository) uniqueExists(ctx context.Context, field, value string) (bool, error) {
	accountID, err := r.lookupUnique(ctx, field, value)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return accountID != "", nil
}

func (r *AccountRepository) lookupUnique(ctx context.Context, field, value string) (string, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            itemKey(uniquePK(field, value), uniqueSK),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		r.logger.WithError(err).WithField("field", field).Error("Failed to get unique marker from DynamoDB")
		return "", fmt.Errorf("failed to get %s marker: %w", field, err)
	}
	if result.Item == nil {
		return "", ErrNotFound
	}

	var marker struct {
		AccountID string `dynamodbav:"account_id"`
	}
	if err := attributevalue.UnmarshalMap(result.Item, &marker); err != nil {
		return "", fmt.Errorf("failed to unmarshal %s marker: %w", field, err)
	}
	return marker.AccountID, nil
}

func (r *AccountRepository) getByUnique(ctx context.Context, field, value string) (*models.Account, error) {
	accountID, err := r.lookupUnique(ctx, field, value)
	if err != nil {
		return nil, err
	}
	return r.getByID(ctx, accountID)
}

func (r *AccountRepository) getByID(ctx context.Context, accountID string) (*models.Account, error) {
	account := &models.Account{ID: accountID}

	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            itemKey(account.GetPK(), account.GetSK()),
		ConsistentRead: aws.Bool(true),
	})

	if err != nil {
		r.logger.WithError(err).Error("Failed to get account from DynamoDB")
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	if result.Item == nil {
		return nil, ErrNotFound
	}

	if err := attributevalue.UnmarshalMap(result.Item, account); err != nil {
		r.logger.WithError(err).Error("Failed to unmarshal account from DynamoDB")
		return nil, fmt.Errorf("failed to unmarshal account: %w", err)
	}

	return account, nil
}

// Register promotes the placeholder in one TransactWriteItems call: the
// account update is conditioned on the item still being the same
// placeholder, and the new username, email and nickname markers must not
// exist yet.
func (r *AccountRepository) Register(ctx context.Context, previous, registered *models.Account) error {
	if !previous.IsPlaceholder() || previous.ID != registered.ID {
		return ErrConflict
	}
	if err := registered.Validate(); err != nil {
		return err
	}
	if !registered.IsRegistered() {
		return models.ErrInvalidStatus
	}

	update := types.TransactWriteItem{
		Update: &types.Update{
			TableName: aws.String(r.tableName),
			Key:       itemKey(registered.GetPK(), registered.GetSK()),
			UpdateExpression: aws.String("SET username = :username, email = :email, password_hash = :password_hash, " +
				"nickname = :nickname, #name = :name, #status = :registered, updated_at = :updated_at"),
			ConditionExpression: aws.String("#status = :placeholder AND username = :previous_username"),
			ExpressionAttributeNames: map[string]string{
				"#name":   "name",
				"#status": "status",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":username":          stringAttr(registered.Username),
				":email":             stringAttr(registered.Email),
				":password_hash":     stringAttr(registered.PasswordHash),
				":nickname":          stringAttr(registered.Nickname),
				":name":              stringAttr(registered.Name),
				":registered":        stringAttr(string(models.StatusRegistered)),
				":placeholder":       stringAttr(string(models.StatusPlaceholder)),
				":previous_username": stringAttr(previous.Username),
				":updated_at":        stringAttr(registered.UpdatedAt.Format(time.RFC3339Nano)),
			},
		},
	}

	items := []types.TransactWriteItem{update}
	fields := []string{""}

	if registered.Username != previous.Username {
		items = append(items,
			types.TransactWriteItem{
				Delete: &types.Delete{
					TableName:                 aws.String(r.tableName),
					Key:                       itemKey(uniquePK(FieldUsername, previous.Username), uniqueSK),
					ConditionExpression:       aws.String("account_id = :account_id"),
					ExpressionAttributeValues: map[string]types.AttributeValue{":account_id": stringAttr(previous.ID)},
				},
			},
			r.putUnique(FieldUsername, registered.Username, registered.ID),
		)
		fields = append(fields, "", FieldUsername)
	}

	items = append(items,
		r.putUnique(FieldEmail, registered.Email, registered.ID),
		r.putUnique(FieldNickname, registered.Nickname, registered.ID),
	)
	fields = append(fields, FieldEmail, FieldNickname)

	_, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err == nil {
		return nil
	}

	reasons := cancellationReasons(err)
	if reasons == nil {
		r.logger.WithError(err).Error("Failed to register account in DynamoDB")
		return fmt.Errorf("failed to register account: %w", err)
	}

	var violated []string
	for i, failed := range reasons {
		if !failed || i >= len(fields) {
			continue
		}
		if fields[i] == "" {
			return ErrConflict
		}
		violated = append(violated, fields[i])
	}
	if len(violated) == 0 {
		return fmt.Errorf("failed to register account: %w", err)
	}
	return &UniqueViolationError{Fields: violated}
}

func (r *AccountRepository) UpdatePassword(ctx context.Context, accountID, passwordHash string, updatedAt time.Time) error {
	account := &models.Account{ID: accountID}

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 itemKey(account.GetPK(), account.GetSK()),
		UpdateExpression:    aws.String("SET password_hash = :password_hash, updated_at = :updated_at"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":password_hash": stringAttr(passwordHash),
			":updated_at":    stringAttr(updatedAt.Format(time.RFC3339Nano)),
		},
	})

	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return ErrNotFound
		}
		r.logger.WithError(err).Error("Failed to update password in DynamoDB")
		return fmt.Errorf("failed to update password: %w", err)
	}

	return nil
}

// cancellationReasons reports, per transaction item, whether its condition
// failed. It returns nil if err is not a cancelled transaction.
func cancellationReasons(err error) []bool {
	var cancelled *types.TransactionCanceledException
	if !errors.As(err, &cancelled) {
		return nil
	}
	failed := make([]bool, len(cancelled.CancellationReasons))
	for i, reason := range cancelled.CancellationReasons {
		failed[i] = aws.ToString(reason.Code) == "ConditionalCheckFailed"
	}
	return failed
}

func cancelledFields(err error, fields []string) []string {
	reasons := cancellationReasons(err)
	var violated []string
	for i, failed := range reasons {
		if failed && i < len(fields) {
			violated = append(violated, fields[i])
		}
	}
	return violated
}
