package board

import (
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/geoboard/internal/geo"
)

const messageProjection = `SELECT m.id, m.author_id, m.content, m.deleted, m.coordinates, m.level, m.creation_time,
  COALESCE((SELECT r.grade FROM vote r WHERE r.message_id = m.id AND r.author_id = ?), 0) AS rated_by_requester,
  COALESCE(SUM(CASE WHEN v.grade = 1 THEN 1 ELSE 0 END), 0) AS likes,
  COALESCE(SUM(CASE WHEN v.grade = -1 THEN 1 ELSE 0 END), 0) AS dislikes
FROM message m
LEFT JOIN vote v ON v.message_id = m.id`

const messageOrdering = `GROUP BY m.id
ORDER BY m.creation_time DESC, m.id DESC
LIMIT ?`

// messageFilter holds the optional read filters. Nil or empty fields impose no constraint.
type messageFilter struct {
	requesterID int64
	ids         []int64
	origin      *geo.Location
	maxDistance *float64
	since       *time.Time
	limit       int
}

type querySpec struct {
	sql  string
	args []any
}

// buildMessageQuery renders the filtered, vote-aggregated read. Soft-deleted messages are
// always excluded so their votes never reach any aggregate.
func buildMessageQuery(filter messageFilter) querySpec {
	conditions := []string{"m.deleted = 0"}
	args := []any{filter.requesterID}

	if len(filter.ids) > 0 {
		conditions = append(conditions, "m.id IN ?")
		args = append(args, filter.ids)
	}

	if filter.origin != nil && filter.maxDistance != nil {
		projected := filter.origin.Projected()
		radius := geo.ProjectedRadius(*filter.origin, *filter.maxDistance)
		conditions = append(conditions,
			"((m.proj_x - ?) * (m.proj_x - ?) + (m.proj_y - ?) * (m.proj_y - ?)) <= ?",
			"m.level = ?",
		)
		args = append(args,
			projected.X(), projected.X(),
			projected.Y(), projected.Y(),
			radius*radius,
			filter.origin.Level,
		)
	}

	if filter.since != nil {
		conditions = append(conditions, "m.creation_time > ?")
		args = append(args, filter.since.Unix())
	}

	args = append(args, filter.limit)

	var builder strings.Builder
	builder.WriteString(messageProjection)
	builder.WriteString("\nWHERE ")
	builder.WriteString(strings.Join(conditions, " AND "))
	builder.WriteString("\n")
	builder.WriteString(messageOrdering)

	return querySpec{sql: builder.String(), args: args}
}
