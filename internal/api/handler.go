// Package api serves the profile backend over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/HolbyKate/cooptme/internal/auth"
	"github.com/HolbyKate/cooptme/internal/normalize"
	"github.com/HolbyKate/cooptme/internal/scanner"
	"github.com/HolbyKate/cooptme/internal/search"
	"github.com/HolbyKate/cooptme/internal/storage"
	"github.com/HolbyKate/cooptme/pkg/plugin"
)

// linkedinProfileBase expands public identifiers to profile URLs.
const linkedinProfileBase = "https://www.linkedin.com/in/"

// Searcher runs full-text queries over stored profiles.
type Searcher interface {
	Search(query, ownerID string, limit int) ([]*search.Result, error)
}

// Rescanner refreshes a stored profile from its page.
type Rescanner interface {
	Scan(ctx context.Context, url string, opts scanner.Options) scanner.Outcome
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	gateway    storage.Gateway
	normalizer *normalize.Normalizer
	index      Searcher
	accounts   *auth.Service
	rescanner  Rescanner
}

// NewHandler creates a new HTTP handler. index, accounts and rescanner are
// optional; the endpoints that need them answer 501 when nil.
func NewHandler(gateway storage.Gateway, index Searcher, accounts *auth.Service, rescanner Rescanner) *Handler {
	return &Handler{
		gateway:    gateway,
		normalizer: normalize.New(),
		index:      index,
		accounts:   accounts,
		rescanner:  rescanner,
	}
}

// HealthCheck returns the health status of the API
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "cooptme-backend",
		"version": "1.0.0",
	})
}

// profileRequest is the body of the add and update endpoints.
type profileRequest struct {
	LinkedinID string     `json:"linkedinId"`
	ProfileURL string     `json:"profileUrl"`
	FirstName  string     `json:"firstName"`
	LastName   string     `json:"lastName"`
	FullName   string     `json:"fullName"`
	Title      string     `json:"title"`
	Company    string     `json:"company"`
	Location   string     `json:"location"`
	ScannedAt  *time.Time `json:"scannedAt"`
	OwnerID    string     `json:"ownerId"`
}

func (r profileRequest) raw() plugin.RawExtractionPayload {
	profileURL := strings.TrimSpace(r.ProfileURL)
	if profileURL == "" && strings.TrimSpace(r.LinkedinID) != "" {
		profileURL = linkedinProfileBase + strings.Trim(strings.TrimSpace(r.LinkedinID), "/")
	}
	return plugin.RawExtractionPayload{
		FirstName:  r.FirstName,
		LastName:   r.LastName,
		FullName:   r.FullName,
		Title:      r.Title,
		Company:    r.Company,
		Location:   r.Location,
		ProfileURL: profileURL,
	}
}

// AddProfile creates or merges a profile in the caller's scope
func (h *Handler) AddProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	owner := ownerID(c)
	if req.OwnerID != "" && req.OwnerID != owner {
		if owner == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "sign in to store profiles for a user"})
		} else {
			c.JSON(http.StatusForbidden, gin.H{"error": "ownerId does not match the signed-in user"})
		}
		return
	}

	raw := req.raw()
	if raw.ProfileURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "profileUrl or linkedinId is required"})
		return
	}

	profile, err := h.normalizer.Normalize(raw, owner)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ScannedAt != nil && !req.ScannedAt.IsZero() {
		profile.ScannedAt = req.ScannedAt.UTC()
	}

	stored, err := h.gateway.Upsert(c.Request.Context(), profile)
	if err != nil {
		writeStorageError(c, err)
		return
	}
	c.JSON(http.StatusCreated, stored)
}

// GetProfile returns a profile by record ID or public identifier
func (h *Handler) GetProfile(c *gin.Context) {
	profile, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, profile)
}

// UpdateProfile overwrites the text fields of a stored profile, or
// refreshes it from its page with ?rescan=true
func (h *Handler) UpdateProfile(c *gin.Context) {
	existing, ok := h.lookup(c)
	if !ok {
		return
	}

	if rescan, _ := strconv.ParseBool(c.Query("rescan")); rescan {
		h.rescan(c, existing)
		return
	}

	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	first, last := strings.TrimSpace(req.FirstName), strings.TrimSpace(req.LastName)
	if first == "" && last == "" {
		first, last = normalize.SplitName(req.FullName)
	}

	update := existing
	update.FirstName = first
	update.LastName = last
	update.Title = strings.TrimSpace(req.Title)
	update.Company = strings.TrimSpace(req.Company)
	update.Location = strings.TrimSpace(req.Location)
	if req.ScannedAt != nil && !req.ScannedAt.IsZero() {
		update.ScannedAt = req.ScannedAt.UTC()
	}

	stored, err := h.gateway.Upsert(c.Request.Context(), update)
	if err != nil {
		writeStorageError(c, err)
		return
	}
	c.JSON(http.StatusOK, stored)
}

func (h *Handler) rescan(c *gin.Context, existing plugin.Profile) {
	if h.rescanner == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "rescanning is not enabled on this server"})
		return
	}

	out := h.rescanner.Scan(c.Request.Context(), existing.ProfileURL, scanner.Options{OwnerID: existing.OwnerID})
	if !out.Succeeded() {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":  out.Reason.Message(),
			"reason": out.Reason,
		})
		return
	}
	c.JSON(http.StatusOK, out.Profile)
}

// DeleteProfile removes a profile by record ID or public identifier
func (h *Handler) DeleteProfile(c *gin.Context) {
	profile, ok := h.lookup(c)
	if !ok {
		return
	}

	removed, err := h.gateway.Remove(c.Request.Context(), profile.OwnerID, profile.ProfileURL)
	if err != nil {
		writeStorageError(c, err)
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"message": "profile not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}

// ListProfiles returns the caller's profiles, most recently updated first
func (h *Handler) ListProfiles(c *gin.Context) {
	owner := ownerID(c)
	profiles, err := h.gateway.List(c.Request.Context(), owner)
	if err != nil {
		writeStorageError(c, err)
		return
	}

	if owner == "" {
		// List("") spans every owner; anonymous callers only see the global scope.
		global := profiles[:0]
		for _, p := range profiles {
			if p.OwnerID == "" {
				global = append(global, p)
			}
		}
		profiles = global
	}
	if profiles == nil {
		profiles = []plugin.Profile{}
	}
	c.JSON(http.StatusOK, profiles)
}

// SearchProfiles runs a full-text query in the caller's scope
func (h *Handler) SearchProfiles(c *gin.Context) {
	if h.index == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "search is not enabled on this server"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
		return
	}

	owner := ownerID(c)
	if owner == "" {
		owner = search.GlobalOwner
	}
	results, err := h.index.Search(c.Query("q"), owner, limit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if results == nil {
		results = []*search.Result{}
	}
	c.JSON(http.StatusOK, results)
}

// authRequest is the body of the register and login endpoints.
type authRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Register creates an account and returns its session token
func (h *Handler) Register(c *gin.Context) {
	h.authenticate(c, http.StatusCreated, func(req authRequest) (auth.User, auth.Session, error) {
		return h.accounts.Register(req.Email, req.Password, req.FirstName, req.LastName)
	})
}

// Login returns a session token for valid credentials
func (h *Handler) Login(c *gin.Context) {
	h.authenticate(c, http.StatusOK, func(req authRequest) (auth.User, auth.Session, error) {
		return h.accounts.Login(req.Email, req.Password)
	})
}

func (h *Handler) authenticate(c *gin.Context, status int, fn func(authRequest) (auth.User, auth.Session, error)) {
	if h.accounts == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"success": false, "error": "accounts are not enabled on this server"})
		return
	}

	var req authRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}

	user, session, err := fn(req)
	switch {
	case err == nil:
		c.JSON(status, gin.H{
			"success":   true,
			"token":     session.Token,
			"expiresAt": session.ExpiresAt,
			"user":      user,
		})
	case errors.Is(err, auth.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
	case errors.Is(err, auth.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
	case errors.Is(err, auth.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
	}
}

// lookup resolves the :id parameter in the caller's scope, writing the
// error response itself when it fails.
func (h *Handler) lookup(c *gin.Context) (plugin.Profile, bool) {
	ctx := c.Request.Context()
	id := c.Param("id")
	owner := ownerID(c)

	profile, err := h.gateway.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		// Fall back to a LinkedIn public identifier.
		if profileURL, nerr := normalize.URL(linkedinProfileBase + id); nerr == nil {
			profile, err = h.gateway.Get(ctx, normalize.RecordID(owner, profileURL))
		}
	}

	switch {
	case err == nil && profile.OwnerID == owner:
		return profile, true
	case err == nil, errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "profile not found"})
	default:
		writeStorageError(c, err)
	}
	return plugin.Profile{}, false
}

func writeStorageError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrInvalidProfile):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "profile not found"})
	case errors.Is(err, storage.ErrStorageUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
