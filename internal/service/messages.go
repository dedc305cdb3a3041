package service

import (
	"time"

	"github.com/propertygo/viewing/internal/model"
)

// BookAppointmentRequest books a viewing for the caller. Agents and admins may
// book on behalf of VisitorID.
type BookAppointmentRequest struct {
	VisitorID    string    `json:"visitor_id,omitempty"`
	ListingID    string    `json:"listing_id"`
	AgentID      *string   `json:"agent_id,omitempty"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	ReferralCode string    `json:"referral_code,omitempty"`
	Notes        *string   `json:"notes,omitempty"`
}

type BookAppointmentResponse struct {
	AppointmentID string             `json:"appointment_id"`
	Appointment   *model.Appointment `json:"appointment"`
}

// ConfirmAppointmentRequest confirms a pending appointment. QRSize, when set,
// asks for a PNG rendering of the credential of that many pixels.
type ConfirmAppointmentRequest struct {
	AppointmentID string `json:"appointment_id"`
	QRSize        int    `json:"qr_size,omitempty"`
}

// ConfirmAppointmentResponse carries the credential and the window in which
// it can be checked in
type ConfirmAppointmentResponse struct {
	AppointmentID   string    `json:"appointment_id"`
	CredentialToken string    `json:"credential_token"`
	QRCodePNG       []byte    `json:"qr_code_png,omitempty"`
	CheckInOpensAt  time.Time `json:"check_in_opens_at"`
	CheckInClosesAt time.Time `json:"check_in_closes_at"`
}

type AppointmentRequest struct {
	AppointmentID string `json:"appointment_id"`
}

type AppointmentResponse struct {
	Appointment *model.Appointment `json:"appointment"`
}

type CheckInRequest struct {
	CredentialToken string `json:"credential_token"`
}

type CheckInResponse struct {
	Status        string `json:"status"`
	AppointmentID string `json:"appointment_id"`
	RewardStatus  string `json:"reward_status,omitempty"`
	RewardMessage string `json:"reward_message,omitempty"`
	VoucherCode   string `json:"voucher_code,omitempty"`
}

// ListAppointmentsRequest lists a visitor's appointments. Only agents and
// admins may name a visitor other than themselves.
type ListAppointmentsRequest struct {
	VisitorID string `json:"visitor_id,omitempty"`
}

type ListAppointmentsResponse struct {
	Appointments []model.Appointment `json:"appointments"`
}

type ProcessNoShowsRequest struct{}

type ProcessNoShowsResponse struct {
	Count int64 `json:"count"`
}

type VerifyReferralCodeRequest struct {
	Code string `json:"code"`
}

// VerifyReferralCodeResponse reports an invalid code as Valid=false with a
// message rather than as an RPC error
type VerifyReferralCodeResponse struct {
	Valid        bool   `json:"valid"`
	ReferrerID   string `json:"referrer_id,omitempty"`
	ReferrerName string `json:"referrer_name,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	Message      string `json:"message"`
}

type ApplySignupReferralRequest struct {
	Code string `json:"code"`
}

type ApplySignupReferralResponse struct {
	Applied bool   `json:"applied"`
	Message string `json:"message"`
}

type GetReferralStatsRequest struct{}

type GetReferralStatsResponse struct {
	ReferralCode   string `json:"referral_code"`
	ReferralsCount int    `json:"referrals_count"`
	RewardsCount   int    `json:"rewards_count"`
	TotalEarned    string `json:"total_earned"`
}

type GetReferralHistoryRequest struct{}

type GetReferralHistoryResponse struct {
	Rewards []model.ReferralReward `json:"rewards"`
}
