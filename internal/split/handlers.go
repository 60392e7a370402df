package split

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-revshare/internal/common"
)

// Handler exposes admin endpoints for split profiles and mappings.
type Handler struct {
	Store    Store
	Resolver Resolver
	Now      func() time.Time
}

type profileRequest struct {
	Name        string                     `json:"name" validate:"required,max=120"`
	Percentages map[string]decimal.Decimal `json:"percentages" validate:"required,min=1"`
}

type mappingRequest struct {
	RevenueTypeID string     `json:"revenueTypeId" validate:"required,max=64"`
	RoomKey       *string    `json:"roomKey,omitempty" validate:"omitempty,max=128"`
	ProfileID     uuid.UUID  `json:"profileId" validate:"required"`
	EffectiveFrom time.Time  `json:"effectiveFrom" validate:"required"`
	EffectiveTo   *time.Time `json:"effectiveTo,omitempty"`
}

type previewRequest struct {
	Amount      decimal.Decimal            `json:"amount"`
	ProfileID   *uuid.UUID                 `json:"profileId,omitempty"`
	Percentages map[string]decimal.Decimal `json:"percentages,omitempty"`
}

// ProfileResponse is the JSON representation of a profile.
type ProfileResponse struct {
	ID          uuid.UUID                  `json:"id"`
	Name        string                     `json:"name"`
	Percentages map[string]decimal.Decimal `json:"percentages"`
	CreatedAt   time.Time                  `json:"createdAt"`
}

// MappingResponse is the JSON representation of a mapping.
type MappingResponse struct {
	ID            uuid.UUID  `json:"id"`
	RevenueTypeID string     `json:"revenueTypeId"`
	RoomKey       *string    `json:"roomKey,omitempty"`
	ProfileID     uuid.UUID  `json:"profileId"`
	EffectiveFrom time.Time  `json:"effectiveFrom"`
	EffectiveTo   *time.Time `json:"effectiveTo,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// AllocationResponse is the JSON representation of an allocation.
type AllocationResponse struct {
	Beneficiary Beneficiary     `json:"beneficiary"`
	Percentage  decimal.Decimal `json:"percentage"`
	Amount      decimal.Decimal `json:"amount"`
}

// ToProfileResponse renders p for API consumers.
func ToProfileResponse(p Profile) ProfileResponse {
	pcts := make(map[string]decimal.Decimal, len(p.Percentages))
	for b, pct := range p.Percentages {
		pcts[string(b)] = pct
	}
	return ProfileResponse{ID: p.ID, Name: p.Name, Percentages: pcts, CreatedAt: p.CreatedAt}
}

func toMappingResponse(m Mapping) MappingResponse {
	return MappingResponse{
		ID:            m.ID,
		RevenueTypeID: m.RevenueTypeID,
		RoomKey:       m.RoomKey,
		ProfileID:     m.ProfileID,
		EffectiveFrom: m.EffectiveFrom,
		EffectiveTo:   m.EffectiveTo,
		CreatedAt:     m.CreatedAt,
	}
}

// ToAllocationResponses renders allocations for API consumers.
func ToAllocationResponses(allocs []Allocation) []AllocationResponse {
	out := make([]AllocationResponse, 0, len(allocs))
	for _, a := range allocs {
		out = append(out, AllocationResponse{Beneficiary: a.Beneficiary, Percentage: a.Percentage, Amount: a.Amount})
	}
	return out
}

func parsePercentages(raw map[string]decimal.Decimal) (map[Beneficiary]decimal.Decimal, error) {
	pcts := make(map[Beneficiary]decimal.Decimal, len(raw))
	for name, pct := range raw {
		b, err := ParseBeneficiary(name)
		if err != nil {
			return nil, common.BadRequest("UNKNOWN_BENEFICIARY", "unknown beneficiary", map[string]any{"beneficiary": name})
		}
		pcts[b] = pct
	}
	return pcts, nil
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}

// CreateProfile stores a new split profile.
func (h *Handler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	pcts, err := parsePercentages(req.Percentages)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	profile := Profile{ID: uuid.New(), Name: strings.TrimSpace(req.Name), Percentages: pcts, CreatedAt: h.now()}
	if err := profile.Validate(); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_PROFILE", err.Error(), nil)
		return
	}
	created, err := h.Store.CreateProfile(r.Context(), profile)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "SPLIT_STORE_ERROR", err.Error(), nil)
		return
	}
	common.Data(w, http.StatusCreated, ToProfileResponse(created))
}

// ListProfiles returns a page of profiles.
func (h *Handler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	limit, offset := common.ParsePagination(r, 20, 100)
	profiles, err := h.Store.ListProfiles(r.Context(), limit, offset)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "SPLIT_STORE_ERROR", err.Error(), nil)
		return
	}
	out := make([]ProfileResponse, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, ToProfileResponse(p))
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out, "limit": limit, "offset": offset})
}

// CreateMapping binds a revenue type to a profile for a time window.
func (h *Handler) CreateMapping(w http.ResponseWriter, r *http.Request) {
	var req mappingRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	ctx := r.Context()
	mapping := Mapping{
		ID:            uuid.New(),
		RevenueTypeID: strings.TrimSpace(req.RevenueTypeID),
		ProfileID:     req.ProfileID,
		EffectiveFrom: req.EffectiveFrom.UTC(),
		CreatedAt:     h.now(),
	}
	if req.RoomKey != nil && strings.TrimSpace(*req.RoomKey) != "" {
		key := strings.TrimSpace(*req.RoomKey)
		mapping.RoomKey = &key
	}
	if req.EffectiveTo != nil {
		to := req.EffectiveTo.UTC()
		mapping.EffectiveTo = &to
	}
	if err := mapping.Validate(); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_MAPPING", err.Error(), nil)
		return
	}
	exists, err := h.Store.RevenueTypeExists(ctx, mapping.RevenueTypeID)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "SPLIT_STORE_ERROR", err.Error(), nil)
		return
	}
	if !exists {
		common.JSONError(w, http.StatusUnprocessableEntity, "UNKNOWN_REVENUE_TYPE", "revenue type does not exist", nil)
		return
	}
	if _, err := h.Store.GetProfile(ctx, mapping.ProfileID); err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusUnprocessableEntity, "UNKNOWN_PROFILE", "split profile does not exist", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "SPLIT_STORE_ERROR", err.Error(), nil)
		return
	}
	created, err := h.Store.CreateMapping(ctx, mapping)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "SPLIT_STORE_ERROR", err.Error(), nil)
		return
	}
	common.Data(w, http.StatusCreated, toMappingResponse(created))
}

// ListMappings returns the mappings configured for a revenue type.
func (h *Handler) ListMappings(w http.ResponseWriter, r *http.Request) {
	revenueTypeID := strings.TrimSpace(r.URL.Query().Get("revenueTypeId"))
	if revenueTypeID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "revenueTypeId is required", nil)
		return
	}
	mappings, err := h.Store.ListMappings(r.Context(), revenueTypeID)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "SPLIT_STORE_ERROR", err.Error(), nil)
		return
	}
	out := make([]MappingResponse, 0, len(mappings))
	for _, m := range mappings {
		out = append(out, toMappingResponse(m))
	}
	common.Data(w, http.StatusOK, out)
}

// Preview computes allocations for an amount against a stored or ad-hoc profile.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	var profile Profile
	switch {
	case req.ProfileID != nil:
		p, err := h.Store.GetProfile(r.Context(), *req.ProfileID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "split profile not found", nil)
				return
			}
			common.JSONError(w, http.StatusInternalServerError, "SPLIT_STORE_ERROR", err.Error(), nil)
			return
		}
		profile = p
	case len(req.Percentages) > 0:
		pcts, err := parsePercentages(req.Percentages)
		if err != nil {
			common.WriteError(w, err)
			return
		}
		profile = Profile{Name: "preview", Percentages: pcts}
	default:
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "profileId or percentages is required", nil)
		return
	}
	allocs, err := Compute(req.Amount, profile)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_SPLIT", err.Error(), nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"amount":      Round2(req.Amount),
			"total":       Total(allocs),
			"allocations": ToAllocationResponses(allocs),
		},
	})
}

// Resolve shows which profile applies to a revenue type, room and instant.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	revenueTypeID := strings.TrimSpace(q.Get("revenueTypeId"))
	if revenueTypeID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "revenueTypeId is required", nil)
		return
	}
	at, err := common.ParseTimeDefault(q.Get("at"), h.now())
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid at timestamp", nil)
		return
	}
	profile, err := h.Resolver.Resolve(r.Context(), revenueTypeID, q.Get("roomKey"), at)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "SPLIT_STORE_ERROR", err.Error(), nil)
		return
	}
	common.Data(w, http.StatusOK, ToProfileResponse(profile))
}
