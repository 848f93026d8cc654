package chat

import (
	"context"

	"go.uber.org/zap"
)

// LoggingAPI is a dry-run API implementation that records outbound calls to
// the log instead of hitting the platform. Used by the engine binary when no
// transport is attached.
type LoggingAPI struct {
	logger *zap.Logger
}

// NewLoggingAPI creates a dry-run chat API.
func NewLoggingAPI(logger *zap.Logger) *LoggingAPI {
	return &LoggingAPI{logger: logger.Named("chat_dryrun")}
}

func (a *LoggingAPI) CheckMembership(_ context.Context, channelID, userID int64) (bool, error) {
	a.logger.Info("CheckMembership", zap.Int64("channelID", channelID), zap.Int64("userID", userID))
	return true, nil
}

func (a *LoggingAPI) Restrict(_ context.Context, groupID, userID int64) error {
	a.logger.Info("Restrict", zap.Int64("groupID", groupID), zap.Int64("userID", userID))
	return nil
}

func (a *LoggingAPI) Unrestrict(_ context.Context, groupID, userID int64) error {
	a.logger.Info("Unrestrict", zap.Int64("groupID", groupID), zap.Int64("userID", userID))
	return nil
}

func (a *LoggingAPI) SendPrompt(_ context.Context, groupID int64, text string, buttons []Button) (int64, error) {
	a.logger.Info("SendPrompt",
		zap.Int64("groupID", groupID),
		zap.String("text", text),
		zap.Int("buttons", len(buttons)))
	return 0, nil
}

func (a *LoggingAPI) DeleteMessage(_ context.Context, groupID, messageID int64) error {
	a.logger.Info("DeleteMessage", zap.Int64("groupID", groupID), zap.Int64("messageID", messageID))
	return nil
}

func (a *LoggingAPI) AnswerCallback(_ context.Context, callbackID, text string) error {
	a.logger.Info("AnswerCallback", zap.String("callbackID", callbackID), zap.String("text", text))
	return nil
}

func (a *LoggingAPI) GetAdministrators(_ context.Context, groupID int64) ([]int64, error) {
	a.logger.Info("GetAdministrators", zap.Int64("groupID", groupID))
	return nil, nil
}
