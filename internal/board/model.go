package board

import (
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/geoboard/internal/codec"
	"github.com/MarcoPoloResearchLab/geoboard/internal/geo"
)

// Grade is a user's vote on a message.
type Grade int

const (
	// GradeDislike counts towards dislikes.
	GradeDislike Grade = -1
	// GradeUnset withdraws a previous vote.
	GradeUnset Grade = 0
	// GradeLike counts towards likes.
	GradeLike Grade = 1
)

// ParseGrade validates a raw vote value.
func ParseGrade(value int) (Grade, error) {
	switch Grade(value) {
	case GradeDislike, GradeUnset, GradeLike:
		return Grade(value), nil
	default:
		return 0, fmt.Errorf("board: invalid grade %d", value)
	}
}

// Message is a persisted message with its vote aggregates.
type Message struct {
	ID               int64
	AuthorID         int64
	Content          codec.Value
	Location         geo.Location
	CreatedAt        time.Time
	Deleted          bool
	Likes            int64
	Dislikes         int64
	RatedByRequester Grade
}

// User is a persisted poster or voter.
type User struct {
	ID        int64
	CreatedAt time.Time
	Banned    bool
}

type userRecord struct {
	ID               int64 `gorm:"column:id;primaryKey"`
	CreatedAtSeconds int64 `gorm:"column:creation_date;not null"`
	Banned           bool  `gorm:"column:banned;not null;default:false"`
}

func (userRecord) TableName() string {
	return "user"
}

func (record userRecord) toUser() User {
	return User{
		ID:        record.ID,
		CreatedAt: time.Unix(record.CreatedAtSeconds, 0).UTC(),
		Banned:    record.Banned,
	}
}

type messageRecord struct {
	ID                int64   `gorm:"column:id;primaryKey"`
	AuthorID          int64   `gorm:"column:author_id;not null"`
	Content           int64   `gorm:"column:content;not null"`
	Deleted           bool    `gorm:"column:deleted;not null;default:false"`
	CreationTimeUnixS int64   `gorm:"column:creation_time;not null"`
	Level             int     `gorm:"column:level;not null"`
	Coordinates       string  `gorm:"column:coordinates;not null"`
	ProjectedX        float64 `gorm:"column:proj_x;not null"`
	ProjectedY        float64 `gorm:"column:proj_y;not null"`
}

func (messageRecord) TableName() string {
	return "message"
}

type voteRecord struct {
	MessageID int64 `gorm:"column:message_id;not null"`
	AuthorID  int64 `gorm:"column:author_id;not null"`
	Grade     int   `gorm:"column:grade;not null"`
}

func (voteRecord) TableName() string {
	return "vote"
}

// messageRow is the shape produced by the assembled read query.
type messageRow struct {
	ID               int64  `gorm:"column:id"`
	AuthorID         int64  `gorm:"column:author_id"`
	Content          int64  `gorm:"column:content"`
	Deleted          bool   `gorm:"column:deleted"`
	Coordinates      string `gorm:"column:coordinates"`
	Level            int    `gorm:"column:level"`
	CreationTime     int64  `gorm:"column:creation_time"`
	RatedByRequester int    `gorm:"column:rated_by_requester"`
	Likes            int64  `gorm:"column:likes"`
	Dislikes         int64  `gorm:"column:dislikes"`
}

func (row messageRow) toMessage() (Message, error) {
	point, err := geo.PointFromWKT(row.Coordinates)
	if err != nil {
		return Message{}, err
	}
	return Message{
		ID:       row.ID,
		AuthorID: row.AuthorID,
		Content:  codec.Value(row.Content),
		Location: geo.Location{
			Latitude:  point.Lat(),
			Longitude: point.Lon(),
			Level:     row.Level,
		},
		CreatedAt:        time.Unix(row.CreationTime, 0).UTC(),
		Deleted:          row.Deleted,
		Likes:            row.Likes,
		Dislikes:         row.Dislikes,
		RatedByRequester: Grade(row.RatedByRequester),
	}, nil
}
