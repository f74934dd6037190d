package tasks

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/ayush/task-manager/internal/store"
)

// ParseListQuery reads the optional filters of GET /tasks:
//
//	completed=true|false   anything else means no filter
//	sortBy=field:asc       any other direction, or none, sorts descending
//	limit=N, skip=M        missing, non-numeric or negative means unbounded
//
// The sort field is not validated; the store decides what it means.
func ParseListQuery(values url.Values) store.TaskQuery {
	var q store.TaskQuery

	switch values.Get("completed") {
	case "true":
		done := true
		q.Completed = &done
	case "false":
		done := false
		q.Completed = &done
	}

	if sortBy := values.Get("sortBy"); sortBy != "" {
		field, dir, _ := strings.Cut(sortBy, ":")
		if field = strings.TrimSpace(field); field != "" {
			q.SortField = field
			q.SortDesc = strings.TrimSpace(dir) != "asc"
		}
	}

	q.Limit = nonNegative(values.Get("limit"))
	q.Skip = nonNegative(values.Get("skip"))
	return q
}

func nonNegative(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
