package board

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/geoboard/internal/codec"
	"github.com/MarcoPoloResearchLab/geoboard/internal/geo"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultLimit bounds FindMessages when the caller supplies no limit.
const DefaultLimit = 50

var noOpLogger = zap.NewNop()

// StoreConfig describes the dependencies of the message store.
type StoreConfig struct {
	Writer       *gorm.DB
	Reader       *gorm.DB
	Clock        func() time.Time
	Logger       *zap.Logger
	DefaultLimit int
}

// Store persists users, messages and votes. Writes are serialized through a single gate;
// reads run on their own connection pool without locking.
type Store struct {
	writer       *gorm.DB
	reader       *gorm.DB
	gate         *writeGate
	clock        func() time.Time
	logger       *zap.Logger
	defaultLimit int
}

// NewStore validates the configuration and constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Writer == nil {
		return nil, newStoreError(opStoreNew, reasonMissingWriter, ErrStorageFailure, errMissingWriter)
	}
	if cfg.Reader == nil {
		return nil, newStoreError(opStoreNew, reasonMissingReader, ErrStorageFailure, errMissingReader)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	defaultLimit := cfg.DefaultLimit
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	return &Store{
		writer:       cfg.Writer,
		reader:       cfg.Reader,
		gate:         newWriteGate(),
		clock:        clock,
		logger:       logger,
		defaultLimit: defaultLimit,
	}, nil
}

// FindParams selects messages. Nil fields impose no constraint; Origin only filters
// when MaxDistance is also supplied.
type FindParams struct {
	RequesterID int64
	Origin      *geo.Location
	MaxDistance *float64
	Since       *time.Time
	Limit       int
	IDs         []int64
}

// CreateUser inserts a user with default attributes and returns its id.
func (s *Store) CreateUser(ctx context.Context) (int64, error) {
	var userID int64
	err := s.write(ctx, opCreateUser, func(tx *gorm.DB) error {
		record := userRecord{CreatedAtSeconds: s.clock().UTC().Unix()}
		if err := tx.Create(&record).Error; err != nil {
			return s.classifyWriteError(opCreateUser, reasonInsertFailed, err)
		}
		userID = record.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return userID, nil
}

// GetUser returns the user with the given id.
func (s *Store) GetUser(ctx context.Context, userID int64) (User, error) {
	var record userRecord
	err := s.reader.WithContext(ctx).Where("id = ?", userID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, newStoreError(opGetUser, reasonNotFound, ErrNotFound, err)
	}
	if err != nil {
		s.logError(opGetUser, reasonQueryFailed, err, zap.Int64("user_id", userID))
		return User{}, newStoreError(opGetUser, reasonQueryFailed, ErrStorageFailure, err)
	}
	return record.toUser(), nil
}

// AddMessage stores a message for userID, creating the user when absent, and returns the
// stored record re-read inside the same transaction.
func (s *Store) AddMessage(ctx context.Context, userID int64, location geo.Location, content codec.Value) (Message, error) {
	var stored Message
	err := s.write(ctx, opAddMessage, func(tx *gorm.DB) error {
		now := s.clock().UTC().Unix()
		user := userRecord{ID: userID, CreatedAtSeconds: now}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&user).Error; err != nil {
			return s.classifyWriteError(opAddMessage, reasonInsertFailed, err, zap.Int64("user_id", userID))
		}

		projected := location.Projected()
		record := messageRecord{
			AuthorID:          userID,
			Content:           int64(content),
			CreationTimeUnixS: now,
			Level:             location.Level,
			Coordinates:       location.WKT(),
			ProjectedX:        projected.X(),
			ProjectedY:        projected.Y(),
		}
		if err := tx.Create(&record).Error; err != nil {
			return s.classifyWriteError(opAddMessage, reasonInsertFailed, err, zap.Int64("user_id", userID))
		}

		messages, err := s.selectMessages(tx, opAddMessage, messageFilter{
			requesterID: userID,
			ids:         []int64{record.ID},
			limit:       1,
		})
		if err != nil {
			return err
		}
		if len(messages) != 1 {
			return newStoreError(opAddMessage, reasonNotFound, ErrStorageFailure, errors.New("inserted message not readable"))
		}
		stored = messages[0]
		return nil
	})
	if err != nil {
		return Message{}, err
	}
	return stored, nil
}

// GetMessage returns a live message with its aggregates and the requester's grade.
func (s *Store) GetMessage(ctx context.Context, messageID, requesterID int64) (Message, error) {
	messages, err := s.selectMessages(s.reader.WithContext(ctx), opGetMessage, messageFilter{
		requesterID: requesterID,
		ids:         []int64{messageID},
		limit:       1,
	})
	if err != nil {
		return Message{}, err
	}
	if len(messages) == 0 {
		return Message{}, newStoreError(opGetMessage, reasonNotFound, ErrNotFound, nil)
	}
	return messages[0], nil
}

// FindMessages returns up to params.Limit live messages matching every supplied filter,
// newest first.
func (s *Store) FindMessages(ctx context.Context, params FindParams) ([]Message, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = s.defaultLimit
	}
	return s.selectMessages(s.reader.WithContext(ctx), opFindMessages, messageFilter{
		requesterID: params.RequesterID,
		ids:         params.IDs,
		origin:      params.Origin,
		maxDistance: params.MaxDistance,
		since:       params.Since,
		limit:       limit,
	})
}

// Vote records userID's grade on messageID, replacing any earlier grade. A vote that
// references a missing or deleted message, or an unknown user, reports false.
func (s *Store) Vote(ctx context.Context, messageID, userID int64, grade Grade) (bool, error) {
	err := s.write(ctx, opVote, func(tx *gorm.DB) error {
		var deleted []bool
		if err := tx.Model(&messageRecord{}).Where("id = ?", messageID).Pluck("deleted", &deleted).Error; err != nil {
			s.logError(opVote, reasonQueryFailed, err, zap.Int64("message_id", messageID))
			return newStoreError(opVote, reasonQueryFailed, ErrStorageFailure, err)
		}
		if len(deleted) == 1 && deleted[0] {
			return newStoreError(opVote, reasonNotFound, ErrNotFound, nil)
		}

		record := voteRecord{MessageID: messageID, AuthorID: userID, Grade: int(grade)}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}, {Name: "author_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"grade"}),
		}).Create(&record).Error
		if err != nil {
			return s.classifyWriteError(opVote, reasonUpsertFailed, err,
				zap.Int64("message_id", messageID),
				zap.Int64("user_id", userID))
		}
		return nil
	})
	if errors.Is(err, ErrConstraintViolation) || errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteMessage soft-deletes a live message. It reports false when no live message matched.
func (s *Store) DeleteMessage(ctx context.Context, messageID int64) (bool, error) {
	var affected int64
	err := s.write(ctx, opDeleteMessage, func(tx *gorm.DB) error {
		result := tx.Model(&messageRecord{}).
			Where("id = ? AND deleted = ?", messageID, false).
			Update("deleted", true)
		if result.Error != nil {
			s.logError(opDeleteMessage, reasonUpdateFailed, result.Error, zap.Int64("message_id", messageID))
			return newStoreError(opDeleteMessage, reasonUpdateFailed, ErrStorageFailure, result.Error)
		}
		affected = result.RowsAffected
		return nil
	})
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// write runs fn in a transaction on the write connection while holding the gate.
func (s *Store) write(ctx context.Context, operation string, fn func(tx *gorm.DB) error) error {
	err := s.gate.run(ctx, func(writeCtx context.Context) error {
		return s.writer.WithContext(writeCtx).Transaction(fn)
	})
	if err == nil {
		return nil
	}
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return newStoreError(operation, reasonGateWait, ctxErr, err)
	}
	s.logError(operation, reasonQueryFailed, err)
	return newStoreError(operation, reasonQueryFailed, ErrStorageFailure, err)
}

func (s *Store) selectMessages(db *gorm.DB, operation string, filter messageFilter) ([]Message, error) {
	spec := buildMessageQuery(filter)
	var rows []messageRow
	if err := db.Raw(spec.sql, spec.args...).Scan(&rows).Error; err != nil {
		s.logError(operation, reasonQueryFailed, err)
		return nil, newStoreError(operation, reasonQueryFailed, ErrStorageFailure, err)
	}
	messages := make([]Message, 0, len(rows))
	for _, row := range rows {
		message, err := row.toMessage()
		if err != nil {
			s.logError(operation, reasonDecodeFailed, err, zap.Int64("message_id", row.ID))
			return nil, newStoreError(operation, reasonDecodeFailed, ErrStorageFailure, err)
		}
		messages = append(messages, message)
	}
	return messages, nil
}

func (s *Store) classifyWriteError(operation, reason string, err error, fields ...zap.Field) error {
	if isConstraintViolation(err) {
		s.loggerOrDefault().Warn("board constraint violation",
			append([]zap.Field{zap.String("operation", operation), zap.Error(err)}, fields...)...)
		return newStoreError(operation, reasonConstraintViolation, ErrConstraintViolation, err)
	}
	s.logError(operation, reason, err, fields...)
	return newStoreError(operation, reason, ErrStorageFailure, err)
}

func (s *Store) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("board store error", attrs...)
}
