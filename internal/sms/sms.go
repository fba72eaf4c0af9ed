// Package sms delivers verification codes by text message.
package sms

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Sender delivers a single verification code to a phone number.
type Sender interface {
	SendCode(ctx context.Context, phoneNumber string, code int) error
}

// DryRunSender logs the code instead of sending it. Development only.
type DryRunSender struct {
	messageText string
	logger      *logrus.Logger
}

func NewDryRunSender(messageText string, logger *logrus.Logger) *DryRunSender {
	return &DryRunSender{
		messageText: messageText,
		logger:      logger,
	}
}

func (s *DryRunSender) SendCode(_ context.Context, phoneNumber string, code int) error {
	s.logger.WithFields(logrus.Fields{
		"phone":   phoneNumber,
		"code":    code,
		"content": fmt.Sprintf(s.messageText, code),
	}).Info("SMS dry run (logged for development)")
	return nil
}
