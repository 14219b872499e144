package activitylog

import (
	"fmt"
	"time"
)

// PageEnvelope is the response body of the page endpoint.
type PageEnvelope struct {
	Done    bool      `json:"done"`
	Body    *PageBody `json:"body"`
	Message string    `json:"message,omitempty"`
}

// PageBody carries one page of logs and its pagination.
type PageBody struct {
	Logs       []WireLog       `json:"logs"`
	Pagination *WirePagination `json:"pagination"`
}

// WirePagination mirrors PageResult totals on the wire.
type WirePagination struct {
	Current    int `json:"current"`
	PageSize   int `json:"pageSize"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// WireActor is the done_by object of a log entry.
type WireActor struct {
	Name      string `json:"name"`
	ColorCode string `json:"color_code,omitempty"`
}

// WireLog is one log entry on the wire.
type WireLog struct {
	ID        string    `json:"id"`
	DoneBy    WireActor `json:"done_by"`
	TaskKey   string    `json:"task_key"`
	TaskName  string    `json:"task_name"`
	LogText   string    `json:"log_text"`
	CreatedAt time.Time `json:"created_at"`
}

// EncodePage converts a result to its wire form.
func EncodePage(result PageResult) PageBody {
	logs := make([]WireLog, 0, len(result.Records))
	for _, rec := range result.Records {
		logs = append(logs, WireLog{
			ID:        rec.ID,
			DoneBy:    WireActor{Name: rec.Actor.Name, ColorCode: rec.Actor.ColorCode},
			TaskKey:   rec.Subject.Key,
			TaskName:  rec.Subject.Name,
			LogText:   rec.ChangeDescription,
			CreatedAt: rec.Timestamp,
		})
	}
	return PageBody{
		Logs: logs,
		Pagination: &WirePagination{
			Current:    result.PageNumber,
			PageSize:   result.PageSize,
			Total:      result.TotalCount,
			TotalPages: result.TotalPages,
		},
	}
}

// Decode converts a wire page back into a result. A missing pagination
// object is an ErrInvalidResponse.
func (b PageBody) Decode() (PageResult, error) {
	if b.Pagination == nil {
		return PageResult{}, fmt.Errorf("%w: missing pagination", ErrInvalidResponse)
	}
	records := make([]LogRecord, 0, len(b.Logs))
	for _, log := range b.Logs {
		records = append(records, LogRecord{
			ID:                log.ID,
			Actor:             Actor{Name: log.DoneBy.Name, ColorCode: log.DoneBy.ColorCode},
			Subject:           Subject{Key: log.TaskKey, Name: log.TaskName},
			ChangeDescription: log.LogText,
			Timestamp:         log.CreatedAt,
		})
	}
	return PageResult{
		Records:    records,
		PageNumber: b.Pagination.Current,
		PageSize:   b.Pagination.PageSize,
		TotalPages: b.Pagination.TotalPages,
		TotalCount: b.Pagination.Total,
	}, nil
}
