package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/unicode/norm"

	"github.com/jmcleod/portalguard/accesscode"
	"github.com/jmcleod/portalguard/internal/audit"
	"github.com/jmcleod/portalguard/internal/httpx"
	"github.com/jmcleod/portalguard/session"
	"github.com/jmcleod/portalguard/storage"
)

const maxEmailLength = 254

// IssueCSRF handles GET /csrf.
func (a *API) IssueCSRF(w http.ResponseWriter, r *http.Request) {
	token, err := a.csrf.Issue(w, r)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	httpx.SetNoStore(w)
	writeJSON(w, http.StatusOK, CSRFResponse{CSRFToken: token})
}

// GetSession handles GET /session.
func (a *API) GetSession(w http.ResponseWriter, r *http.Request) {
	c, _ := session.ClaimFromContext(r.Context())
	httpx.SetNoStore(w)
	writeJSON(w, http.StatusOK, SessionResponse{
		UserID:      c.UserID,
		Email:       c.Email,
		Role:        string(c.Role),
		LandingPath: session.LandingPath(c.Role),
	})
}

// ClearSession handles POST /session/clear. It expires the session and CSRF
// cookies and tells the browser to drop everything it holds for the origin.
func (a *API) ClearSession(w http.ResponseWriter, r *http.Request) {
	a.csrf.Clear(w)
	session.ClearCookie(w, a.secureCookies || httpx.RequestIsSecure(r))
	httpx.SetClearSiteData(w)
	a.audit.Log(r, audit.SessionCleared)
	w.WriteHeader(http.StatusNoContent)
}

// IssueAccessCode handles POST /assessments/{assessmentID}/access-codes.
func (a *API) IssueAccessCode(w http.ResponseWriter, r *http.Request) {
	assessmentID := strings.TrimSpace(chi.URLParam(r, "assessmentID"))
	c, _ := session.ClaimFromContext(r.Context())

	req, ok := decodeJSON[IssueAccessCodeRequest](w, r, maxSmallBodySize, true)
	if !ok {
		return
	}
	if req.ValidityDays < 0 {
		a.mapError(w, r, accesscode.ErrInvalidValidity)
		return
	}

	code, err := accesscode.IssueAt(assessmentID, c.UserID, time.Duration(req.ValidityDays)*24*time.Hour, a.now())
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	if err := a.repo.Put(r.Context(), code.Record()); err != nil {
		a.mapError(w, r, err)
		return
	}

	a.audit.Log(r, audit.AccessCodeIssued,
		slog.String("user_id", c.UserID),
		slog.String("code_id", code.ID),
		slog.String("assessment_id", assessmentID),
		slog.Time("expires_at", code.ExpiresAt),
	)
	httpx.SetNoStore(w)
	writeJSON(w, http.StatusCreated, IssueAccessCodeResponse{
		ID:           code.ID,
		Code:         code.Plaintext,
		AssessmentID: code.AssessmentID,
		ExpiresAt:    code.ExpiresAt,
	})
}

// ListAccessCodes handles GET /assessments/{assessmentID}/access-codes.
func (a *API) ListAccessCodes(w http.ResponseWriter, r *http.Request) {
	recs, err := a.repo.ListByAssessment(r.Context(), chi.URLParam(r, "assessmentID"))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	limit, offset := pageParams(r)
	recs, page := paginate(recs, limit, offset)
	out := make([]AccessCodeSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, summarize(rec))
	}
	writeJSON(w, http.StatusOK, ListAccessCodesResponse{AccessCodes: out, Page: page})
}

// RedeemAccessCode handles POST /access-codes/redeem. Every rejection gets
// the same response so callers cannot tell unknown, expired and used codes
// apart.
func (a *API) RedeemAccessCode(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[RedeemAccessCodeRequest](w, r, maxSmallBodySize, false)
	if !ok {
		return
	}

	reject := func(reason string) {
		a.audit.Failure(r, audit.AccessCodeRejected, reason)
		writeError(w, http.StatusBadRequest, msgInvalidCode)
	}

	code := accesscode.Normalize(req.Code)
	if len(code) != accesscode.Length {
		reject("malformed_code")
		return
	}
	email, ok := normalizeEmail(req.Email)
	if !ok {
		reject("invalid_email")
		return
	}

	hash := accesscode.Hash(code)
	stored, err := a.repo.GetByHash(r.Context(), hash)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		reject("unknown_code")
		return
	case err != nil:
		a.mapError(w, r, err)
		return
	}
	if !accesscode.Verify(code, stored.Hash) {
		reject("hash_mismatch")
		return
	}

	envelope, err := a.cipher.EncryptString(email)
	if err != nil {
		a.mapError(w, r, err)
		return
	}

	rec, err := a.repo.Consume(r.Context(), hash, a.now().UTC(), envelope)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		reject("unknown_code")
		return
	case errors.Is(err, storage.ErrExpired):
		reject("expired")
		return
	case errors.Is(err, storage.ErrConsumed):
		reject("already_consumed")
		return
	case err != nil:
		a.mapError(w, r, err)
		return
	}

	a.audit.Log(r, audit.AccessCodeRedeemed,
		slog.String("code_id", rec.ID),
		slog.String("assessment_id", rec.AssessmentID),
	)
	httpx.SetNoStore(w)
	writeJSON(w, http.StatusOK, RedeemAccessCodeResponse{AssessmentID: rec.AssessmentID})
}

// GetAccessCode handles GET /access-codes/{codeID}.
func (a *API) GetAccessCode(w http.ResponseWriter, r *http.Request) {
	rec, err := a.repo.Get(r.Context(), chi.URLParam(r, "codeID"))
	if err != nil {
		a.mapError(w, r, err)
		return
	}

	detail := AccessCodeDetail{AccessCodeSummary: summarize(rec)}
	if rec.RedeemedEmail != "" {
		email, err := a.cipher.DecryptString(rec.RedeemedEmail)
		if err != nil {
			a.mapError(w, r, err)
			return
		}
		detail.RedeemedEmail = email
		c, _ := session.ClaimFromContext(r.Context())
		a.audit.Log(r, audit.PIIRevealed,
			slog.String("user_id", c.UserID),
			slog.String("code_id", rec.ID),
			slog.String("field", "redeemed_email"),
		)
	}
	httpx.SetNoStore(w)
	writeJSON(w, http.StatusOK, detail)
}

// DeleteAccessCode handles DELETE /access-codes/{codeID}.
func (a *API) DeleteAccessCode(w http.ResponseWriter, r *http.Request) {
	codeID := chi.URLParam(r, "codeID")
	if err := a.repo.Delete(r.Context(), codeID); err != nil {
		a.mapError(w, r, err)
		return
	}
	c, _ := session.ClaimFromContext(r.Context())
	a.audit.Log(r, audit.AccessCodeDeleted,
		slog.String("user_id", c.UserID),
		slog.String("code_id", codeID),
	)
	w.WriteHeader(http.StatusNoContent)
}

func summarize(rec storage.CodeRecord) AccessCodeSummary {
	return AccessCodeSummary{
		ID:           rec.ID,
		AssessmentID: rec.AssessmentID,
		IssuedBy:     rec.IssuedBy,
		CreatedAt:    rec.CreatedAt,
		ExpiresAt:    rec.ExpiresAt,
		ConsumedAt:   rec.ConsumedAt,
	}
}

// normalizeEmail applies NFKC and lower-cases the address so equivalent
// spellings encrypt to the same plaintext.
func normalizeEmail(raw string) (string, bool) {
	s := strings.ToLower(norm.NFKC.String(strings.TrimSpace(raw)))
	if s == "" || len(s) > maxEmailLength {
		return "", false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s || addr.Name != "" {
		return "", false
	}
	return s, true
}
