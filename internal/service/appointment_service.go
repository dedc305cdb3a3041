package service

import (
	"context"
	"net"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"

	"github.com/propertygo/viewing/internal/apperr"
	"github.com/propertygo/viewing/internal/auth"
	"github.com/propertygo/viewing/internal/credential"
	"github.com/propertygo/viewing/internal/lifecycle"
)

const maxQRSize = 1024

// AppointmentServer implements the appointment service
type AppointmentServer struct {
	lifecycle *lifecycle.Lifecycle
	sweeper   *lifecycle.Sweeper
	auth      *auth.Authenticator
	log       zerolog.Logger
}

// NewAppointmentServer creates a new AppointmentServer instance
func NewAppointmentServer(l *lifecycle.Lifecycle, sweeper *lifecycle.Sweeper, authenticator *auth.Authenticator, log zerolog.Logger) *AppointmentServer {
	return &AppointmentServer{
		lifecycle: l,
		sweeper:   sweeper,
		auth:      authenticator,
		log:       log.With().Str("component", "appointment-service").Logger(),
	}
}

// BookAppointment books a viewing in PENDING status
func (s *AppointmentServer) BookAppointment(
	ctx context.Context,
	req *connect.Request[BookAppointmentRequest],
) (*connect.Response[BookAppointmentResponse], error) {
	identity, err := s.auth.Require(req.Header())
	if err != nil {
		return nil, toConnectError(s.log, BookAppointmentProcedure, err)
	}

	visitorID := identity.UserID
	if req.Msg.VisitorID != "" && req.Msg.VisitorID != identity.UserID {
		if !identity.HasRole(auth.RoleAgent, auth.RoleAdmin) {
			return nil, toConnectError(s.log, BookAppointmentProcedure, auth.ErrForbidden)
		}
		visitorID = req.Msg.VisitorID
	}

	appointment, err := s.lifecycle.Book(ctx, lifecycle.BookRequest{
		VisitorID:    visitorID,
		ListingID:    req.Msg.ListingID,
		AgentID:      req.Msg.AgentID,
		ScheduledAt:  req.Msg.ScheduledAt,
		ReferralCode: req.Msg.ReferralCode,
		Notes:        req.Msg.Notes,
		RateKey:      rateKey(req.Header(), req.Peer().Addr),
	})
	if err != nil {
		return nil, toConnectError(s.log, BookAppointmentProcedure, err)
	}

	return connect.NewResponse(&BookAppointmentResponse{
		AppointmentID: appointment.ID,
		Appointment:   appointment,
	}), nil
}

// ConfirmAppointment confirms a pending appointment and returns its credential
func (s *AppointmentServer) ConfirmAppointment(
	ctx context.Context,
	req *connect.Request[ConfirmAppointmentRequest],
) (*connect.Response[ConfirmAppointmentResponse], error) {
	if _, err := s.auth.Require(req.Header(), auth.RoleAgent, auth.RoleAdmin); err != nil {
		return nil, toConnectError(s.log, ConfirmAppointmentProcedure, err)
	}
	if req.Msg.QRSize < 0 || req.Msg.QRSize > maxQRSize {
		return nil, toConnectError(s.log, ConfirmAppointmentProcedure,
			apperr.New(apperr.Validation, "qr_size must be between 0 and %d", maxQRSize))
	}

	confirmation, err := s.lifecycle.Confirm(ctx, req.Msg.AppointmentID)
	if err != nil {
		return nil, toConnectError(s.log, ConfirmAppointmentProcedure, err)
	}

	opens, closes := s.lifecycle.Policy().Window(confirmation.Appointment.ScheduledAt)
	res := &ConfirmAppointmentResponse{
		AppointmentID:   confirmation.Appointment.ID,
		CredentialToken: confirmation.Token,
		CheckInOpensAt:  opens,
		CheckInClosesAt: closes,
	}
	if req.Msg.QRSize > 0 {
		png, err := credential.RenderQR(confirmation.Token, req.Msg.QRSize)
		if err != nil {
			// The confirmation is committed; the token alone is still usable
			s.log.Warn().Err(err).Str("appointment_id", res.AppointmentID).Msg("failed to render credential QR code")
		} else {
			res.QRCodePNG = png
		}
	}

	return connect.NewResponse(res), nil
}

// RejectAppointment rejects a pending appointment
func (s *AppointmentServer) RejectAppointment(
	ctx context.Context,
	req *connect.Request[AppointmentRequest],
) (*connect.Response[AppointmentResponse], error) {
	if _, err := s.auth.Require(req.Header(), auth.RoleAgent, auth.RoleAdmin); err != nil {
		return nil, toConnectError(s.log, RejectAppointmentProcedure, err)
	}

	appointment, err := s.lifecycle.Reject(ctx, req.Msg.AppointmentID)
	if err != nil {
		return nil, toConnectError(s.log, RejectAppointmentProcedure, err)
	}
	return connect.NewResponse(&AppointmentResponse{Appointment: appointment}), nil
}

// CancelAppointment cancels an appointment. Visitors may cancel only their own.
func (s *AppointmentServer) CancelAppointment(
	ctx context.Context,
	req *connect.Request[AppointmentRequest],
) (*connect.Response[AppointmentResponse], error) {
	identity, err := s.auth.Require(req.Header())
	if err != nil {
		return nil, toConnectError(s.log, CancelAppointmentProcedure, err)
	}

	if !identity.HasRole(auth.RoleAgent, auth.RoleAdmin) {
		current, err := s.lifecycle.Get(ctx, req.Msg.AppointmentID)
		if err != nil {
			return nil, toConnectError(s.log, CancelAppointmentProcedure, err)
		}
		if current.VisitorID != identity.UserID {
			// Do not reveal other visitors' appointments
			return nil, toConnectError(s.log, CancelAppointmentProcedure,
				apperr.New(apperr.NotFound, "appointment not found"))
		}
	}

	appointment, err := s.lifecycle.Cancel(ctx, req.Msg.AppointmentID)
	if err != nil {
		return nil, toConnectError(s.log, CancelAppointmentProcedure, err)
	}
	return connect.NewResponse(&AppointmentResponse{Appointment: appointment}), nil
}

// CheckIn redeems a credential scanned by an agent
func (s *AppointmentServer) CheckIn(
	ctx context.Context,
	req *connect.Request[CheckInRequest],
) (*connect.Response[CheckInResponse], error) {
	identity, err := s.auth.Require(req.Header(), auth.RoleAgent, auth.RoleAdmin)
	if err != nil {
		return nil, toConnectError(s.log, CheckInProcedure, err)
	}

	result, err := s.lifecycle.CheckIn(ctx, req.Msg.CredentialToken, identity.UserID)
	if err != nil {
		return nil, toConnectError(s.log, CheckInProcedure, err)
	}

	res := &CheckInResponse{
		Status:        result.Status,
		AppointmentID: result.Appointment.ID,
		RewardStatus:  result.RewardStatus,
		RewardMessage: result.RewardMessage,
	}
	if result.Reward != nil {
		res.VoucherCode = result.Reward.VoucherCode
	}
	return connect.NewResponse(res), nil
}

// ListAppointments lists a visitor's appointments
func (s *AppointmentServer) ListAppointments(
	ctx context.Context,
	req *connect.Request[ListAppointmentsRequest],
) (*connect.Response[ListAppointmentsResponse], error) {
	identity, err := s.auth.Require(req.Header())
	if err != nil {
		return nil, toConnectError(s.log, ListAppointmentsProcedure, err)
	}

	visitorID := identity.UserID
	if req.Msg.VisitorID != "" && req.Msg.VisitorID != identity.UserID {
		if !identity.HasRole(auth.RoleAgent, auth.RoleAdmin) {
			return nil, toConnectError(s.log, ListAppointmentsProcedure, auth.ErrForbidden)
		}
		visitorID = req.Msg.VisitorID
	}

	appointments, err := s.lifecycle.ListForVisitor(ctx, visitorID)
	if err != nil {
		return nil, toConnectError(s.log, ListAppointmentsProcedure, err)
	}
	return connect.NewResponse(&ListAppointmentsResponse{Appointments: appointments}), nil
}

// ProcessNoShows runs the no-show sweep on demand
func (s *AppointmentServer) ProcessNoShows(
	ctx context.Context,
	req *connect.Request[ProcessNoShowsRequest],
) (*connect.Response[ProcessNoShowsResponse], error) {
	if _, err := s.auth.Require(req.Header(), auth.RoleAdmin); err != nil {
		return nil, toConnectError(s.log, ProcessNoShowsProcedure, err)
	}

	count, err := s.sweeper.ProcessNoShows(ctx)
	if err != nil {
		return nil, toConnectError(s.log, ProcessNoShowsProcedure, err)
	}
	return connect.NewResponse(&ProcessNoShowsResponse{Count: count}), nil
}

// rateKey identifies a caller for throttling: the first X-Forwarded-For hop
// when present, otherwise the host of the peer address
func rateKey(header http.Header, peerAddr string) string {
	if forwarded := header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(peerAddr); err == nil {
		return host
	}
	return peerAddr
}
