package api

import "time"

// ErrorResponse is the JSON body of every error.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CSRFResponse is returned from GET /csrf.
type CSRFResponse struct {
	CSRFToken string `json:"csrf_token"`
}

// SessionResponse is returned from GET /session.
type SessionResponse struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email,omitempty"`
	Role        string `json:"role"`
	LandingPath string `json:"landing_path"`
}

// IssueAccessCodeRequest is the optional JSON body for
// POST /assessments/{assessmentID}/access-codes.
type IssueAccessCodeRequest struct {
	ValidityDays int `json:"validity_days,omitempty"`
}

// IssueAccessCodeResponse carries the plaintext code. It is the only
// response that ever does.
type IssueAccessCodeResponse struct {
	ID           string    `json:"id"`
	Code         string    `json:"code"`
	AssessmentID string    `json:"assessment_id"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// RedeemAccessCodeRequest is the JSON body for POST /access-codes/redeem.
type RedeemAccessCodeRequest struct {
	Code  string `json:"code"`
	Email string `json:"email"`
}

// RedeemAccessCodeResponse is returned on successful redemption.
type RedeemAccessCodeResponse struct {
	AssessmentID string `json:"assessment_id"`
}

// AccessCodeSummary describes a code without PII.
type AccessCodeSummary struct {
	ID           string     `json:"id"`
	AssessmentID string     `json:"assessment_id"`
	IssuedBy     string     `json:"issued_by"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	ConsumedAt   *time.Time `json:"consumed_at,omitempty"`
}

// AccessCodeDetail is returned from GET /access-codes/{codeID} and includes
// the decrypted email of the candidate who redeemed it.
type AccessCodeDetail struct {
	AccessCodeSummary
	RedeemedEmail string `json:"redeemed_email,omitempty"`
}

// ListAccessCodesResponse is returned from
// GET /assessments/{assessmentID}/access-codes.
type ListAccessCodesResponse struct {
	AccessCodes []AccessCodeSummary `json:"access_codes"`
	Page        Page                `json:"page"`
}
