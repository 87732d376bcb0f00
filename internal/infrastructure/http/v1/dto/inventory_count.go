package dto

import (
	"time"

	"tireshop/internal/core/id"
	"tireshop/internal/domain/inventorycount"
)

// --- Request DTOs ---

// AssignmentRequest grants capabilities on a count to one user.
type AssignmentRequest struct {
	UserID   int64 `json:"userId" binding:"required,min=1"`
	Count    bool  `json:"count"`
	Adjust   bool  `json:"adjust"`
	Validate bool  `json:"validate"`
}

// ScheduleCountRequest creates or reschedules a count.
type ScheduleCountRequest struct {
	Title           string              `json:"title" binding:"required,max=200"`
	Description     string              `json:"description"`
	StartAt         time.Time           `json:"startAt" binding:"required"`
	EndAt           time.Time           `json:"endAt" binding:"required"`
	Kind            string              `json:"kind" binding:"required,oneof=full partial cyclic"`
	LocationID      *int64              `json:"locationId,omitempty"`
	IncludeLowStock bool                `json:"includeLowStock"`
	Assignments     []AssignmentRequest `json:"assignments" binding:"dive"`
}

func (r *ScheduleCountRequest) ToInput() inventorycount.ScheduleInput {
	in := inventorycount.ScheduleInput{
		Title:           r.Title,
		Description:     r.Description,
		StartAt:         r.StartAt,
		EndAt:           r.EndAt,
		Kind:            inventorycount.Kind(r.Kind),
		LocationID:      r.LocationID,
		IncludeLowStock: r.IncludeLowStock,
		Assignments:     make([]inventorycount.AssignmentInput, 0, len(r.Assignments)),
	}
	for _, a := range r.Assignments {
		in.Assignments = append(in.Assignments, inventorycount.AssignmentInput{
			UserID:   a.UserID,
			Count:    a.Count,
			Adjust:   a.Adjust,
			Validate: a.Validate,
		})
	}
	return in
}

// RecordCountRequest stores the physical quantity of one product.
type RecordCountRequest struct {
	Quantity        *int64 `json:"quantity" binding:"required,min=0"`
	Notes           string `json:"notes" binding:"max=1000"`
	ExpectedVersion *int   `json:"expectedVersion" binding:"required,min=1"`
}

func (r *RecordCountRequest) ToInput(countID id.ID, productID int64) inventorycount.RecordCountInput {
	return inventorycount.RecordCountInput{
		CountID:         countID,
		ProductID:       productID,
		Quantity:        *r.Quantity,
		Notes:           r.Notes,
		ExpectedVersion: r.ExpectedVersion,
	}
}

// ReconcileLineRequest previews or reconciles one line, optionally against a cutoff.
type ReconcileLineRequest struct {
	Cutoff *time.Time `json:"cutoff,omitempty"`
}

// OverrideAdjustmentRequest replaces the pending correction of a line.
type OverrideAdjustmentRequest struct {
	Delta int64 `json:"delta" binding:"required"`
}

// ListCountsQuery filters count listings.
type ListCountsQuery struct {
	PageRequest
	Status     string `form:"status" binding:"omitempty,oneof=scheduled in_progress completed"`
	Kind       string `form:"kind" binding:"omitempty,oneof=full partial cyclic"`
	LocationID *int64 `form:"locationId"`
}

func (q *ListCountsQuery) ToFilter() inventorycount.ListFilter {
	f := inventorycount.ListFilter{LocationID: q.LocationID, Page: q.ToPage()}
	if q.Status != "" {
		s := inventorycount.Status(q.Status)
		f.Status = &s
	}
	if q.Kind != "" {
		k := inventorycount.Kind(q.Kind)
		f.Kind = &k
	}
	return f
}

// ListLinesQuery filters count line listings.
type ListLinesQuery struct {
	PageRequest
	Counted        *bool `form:"counted"`
	WithDifference bool  `form:"withDifference"`
}

func (q *ListLinesQuery) ToFilter() inventorycount.LineFilter {
	return inventorycount.LineFilter{
		Counted:        q.Counted,
		WithDifference: q.WithDifference,
		Page:           q.ToPage(),
	}
}

// --- Response DTOs ---

// AssignmentResponse is one user's grant on a count.
type AssignmentResponse struct {
	UserID   int64 `json:"userId"`
	Count    bool  `json:"count"`
	Adjust   bool  `json:"adjust"`
	Validate bool  `json:"validate"`
}

// CountResponse is a count header as returned by the API.
type CountResponse struct {
	ID              string               `json:"id"`
	Title           string               `json:"title"`
	Description     string               `json:"description,omitempty"`
	StartAt         time.Time            `json:"startAt"`
	EndAt           time.Time            `json:"endAt"`
	Kind            string               `json:"kind"`
	Status          string               `json:"status"`
	CreatorUserID   int64                `json:"creatorUserId"`
	LocationID      *int64               `json:"locationId,omitempty"`
	IncludeLowStock bool                 `json:"includeLowStock"`
	StartedAt       *time.Time           `json:"startedAt,omitempty"`
	CompletedAt     *time.Time           `json:"completedAt,omitempty"`
	Assignments     []AssignmentResponse `json:"assignments,omitempty"`
	Version         int                  `json:"version"`
	CreatedAt       time.Time            `json:"createdAt"`
	UpdatedAt       time.Time            `json:"updatedAt"`
}

// FromCount converts a count header to its response DTO.
func FromCount(c *inventorycount.InventoryCount) CountResponse {
	resp := CountResponse{
		ID:              c.ID.String(),
		Title:           c.Title,
		Description:     c.Description,
		StartAt:         c.StartAt,
		EndAt:           c.EndAt,
		Kind:            string(c.Kind),
		Status:          string(c.Status),
		CreatorUserID:   c.CreatorUserID,
		LocationID:      c.LocationID,
		IncludeLowStock: c.IncludeLowStock,
		StartedAt:       c.StartedAt,
		CompletedAt:     c.CompletedAt,
		Version:         c.Version,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
	for _, a := range c.Assignments {
		resp.Assignments = append(resp.Assignments, AssignmentResponse{
			UserID:   a.UserID,
			Count:    a.CanCount,
			Adjust:   a.CanAdjust,
			Validate: a.CanValidate,
		})
	}
	return resp
}

// FromCounts converts a page of count headers.
func FromCounts(counts []*inventorycount.InventoryCount) []CountResponse {
	out := make([]CountResponse, 0, len(counts))
	for _, c := range counts {
		out = append(out, FromCount(c))
	}
	return out
}

// AdjustmentResultsResponse reports one apply pass.
type AdjustmentResultsResponse struct {
	Results []inventorycount.AdjustmentResult `json:"results"`
	Applied int                               `json:"applied"`
	Failed  int                               `json:"failed"`
}

// NewAdjustmentResultsResponse tallies the outcomes of an apply pass.
func NewAdjustmentResultsResponse(results []inventorycount.AdjustmentResult) AdjustmentResultsResponse {
	resp := AdjustmentResultsResponse{Results: results}
	if resp.Results == nil {
		resp.Results = []inventorycount.AdjustmentResult{}
	}
	for _, r := range results {
		switch r.Status {
		case inventorycount.ApplyApplied:
			resp.Applied++
		case inventorycount.ApplyFailed:
			resp.Failed++
		}
	}
	return resp
}
