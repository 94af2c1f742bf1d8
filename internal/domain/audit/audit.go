package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"payrun/internal/platform/querier"
)

type Event struct {
	ID            string          `json:"id"`
	ActorID       string          `json:"actorId"`
	Action        string          `json:"action"`
	RunID         string          `json:"runId"`
	EmployeeID    string          `json:"employeeId,omitempty"`
	Justification string          `json:"justification,omitempty"`
	RequestID     string          `json:"requestId"`
	IP            string          `json:"ip"`
	CreatedAt     any             `json:"createdAt"`
	Details       json.RawMessage `json:"details,omitempty"`
}

type Filter struct {
	Action    string
	RunID     string
	ActorUser string
}

type Service struct {
	DB querier.Querier
}

func New(db querier.Querier) *Service {
	return &Service{DB: db}
}

func (s *Service) Record(ctx context.Context, actorID, action, runID, employeeID, justification, requestID, ip string, details any) error {
	var detailsJSON []byte
	if details != nil {
		payload, err := json.Marshal(details)
		if err != nil {
			return err
		}
		detailsJSON = payload
	}

	_, err := s.DB.Exec(ctx, `
    INSERT INTO audit_events (actor_user_id, action, run_id, employee_id, justification, details_json, request_id, ip)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
  `, actorID, action, nullIfEmpty(runID), nullIfEmpty(employeeID), justification, detailsJSON, requestID, ip)
	return err
}

func (s *Service) Count(ctx context.Context, filter Filter) (int, error) {
	query, args := buildBaseQuery("SELECT COUNT(1)", filter)
	var total int
	if err := s.DB.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Service) List(ctx context.Context, filter Filter, includeDetails bool, limit, offset int) ([]Event, error) {
	selectCols := "id, actor_user_id, COALESCE(run_id::text, ''), COALESCE(employee_id, ''), COALESCE(justification, ''), action, request_id, ip, created_at"
	if includeDetails {
		selectCols += ", details_json"
	}
	query, args := buildBaseQuery("SELECT "+selectCols, filter)
	limitPos := len(args) + 1
	offsetPos := len(args) + 2
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", limitPos, offsetPos)
	args = append(args, limit, offset)

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var evt Event
		if includeDetails {
			if err := rows.Scan(&evt.ID, &evt.ActorID, &evt.RunID, &evt.EmployeeID, &evt.Justification, &evt.Action, &evt.RequestID, &evt.IP, &evt.CreatedAt, &evt.Details); err != nil {
				return nil, err
			}
		} else {
			if err := rows.Scan(&evt.ID, &evt.ActorID, &evt.RunID, &evt.EmployeeID, &evt.Justification, &evt.Action, &evt.RequestID, &evt.IP, &evt.CreatedAt); err != nil {
				return nil, err
			}
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

func buildBaseQuery(prefix string, filter Filter) (string, []any) {
	query := prefix + " FROM audit_events WHERE 1=1"
	var args []any
	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", len(args)+1)
		args = append(args, filter.Action)
	}
	if filter.RunID != "" {
		query += fmt.Sprintf(" AND run_id::text = $%d", len(args)+1)
		args = append(args, filter.RunID)
	}
	if filter.ActorUser != "" {
		query += fmt.Sprintf(" AND actor_user_id::text = $%d", len(args)+1)
		args = append(args, filter.ActorUser)
	}
	return query, args
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
