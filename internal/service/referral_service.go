package service

import (
	"context"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"

	"github.com/propertygo/viewing/internal/apperr"
	"github.com/propertygo/viewing/internal/auth"
	"github.com/propertygo/viewing/internal/model"
	"github.com/propertygo/viewing/internal/referral"
)

// ReferralServer implements the referral service
type ReferralServer struct {
	attributor *referral.Attributor
	program    *referral.Program
	auth       *auth.Authenticator
	log        zerolog.Logger
}

// NewReferralServer creates a new ReferralServer instance
func NewReferralServer(attributor *referral.Attributor, program *referral.Program, authenticator *auth.Authenticator, log zerolog.Logger) *ReferralServer {
	return &ReferralServer{
		attributor: attributor,
		program:    program,
		auth:       authenticator,
		log:        log.With().Str("component", "referral-service").Logger(),
	}
}

// VerifyReferralCode checks a code before it is used for booking or signup.
// Anonymous callers are allowed; an authenticated caller cannot verify their
// own code.
func (s *ReferralServer) VerifyReferralCode(
	ctx context.Context,
	req *connect.Request[VerifyReferralCodeRequest],
) (*connect.Response[VerifyReferralCodeResponse], error) {
	callerID := ""
	if req.Header().Get("Authorization") != "" {
		identity, err := s.auth.Authenticate(req.Header())
		if err != nil {
			return nil, toConnectError(s.log, VerifyReferralCodeProcedure, err)
		}
		callerID = identity.UserID
	}

	referrer, err := s.attributor.VerifyCode(ctx, rateKey(req.Header(), req.Peer().Addr), req.Msg.Code, callerID)
	if err != nil {
		kind := apperr.KindOf(err)
		if kind == apperr.System {
			return nil, toConnectError(s.log, VerifyReferralCodeProcedure, err)
		}
		return connect.NewResponse(&VerifyReferralCodeResponse{
			Valid:     false,
			ErrorKind: string(kind),
			Message:   apperr.MessageOf(err),
		}), nil
	}

	return connect.NewResponse(&VerifyReferralCodeResponse{
		Valid:        true,
		ReferrerID:   referrer.ID,
		ReferrerName: referrer.Name,
		Message:      "Referral code applied. Referred by " + referrer.Name,
	}), nil
}

// ApplySignupReferral links the caller's account to the owner of a code
func (s *ReferralServer) ApplySignupReferral(
	ctx context.Context,
	req *connect.Request[ApplySignupReferralRequest],
) (*connect.Response[ApplySignupReferralResponse], error) {
	identity, err := s.auth.Require(req.Header())
	if err != nil {
		return nil, toConnectError(s.log, ApplySignupReferralProcedure, err)
	}

	// Goes through the limiter so codes cannot be guessed here either
	if _, err := s.attributor.VerifyCode(ctx, rateKey(req.Header(), req.Peer().Addr), req.Msg.Code, identity.UserID); err != nil {
		return nil, toConnectError(s.log, ApplySignupReferralProcedure, err)
	}
	if err := s.program.ApplySignupReferral(ctx, identity.UserID, req.Msg.Code); err != nil {
		return nil, toConnectError(s.log, ApplySignupReferralProcedure, err)
	}

	return connect.NewResponse(&ApplySignupReferralResponse{
		Applied: true,
		Message: "Referral applied",
	}), nil
}

// GetReferralStats returns the caller's referral code and counters
func (s *ReferralServer) GetReferralStats(
	ctx context.Context,
	req *connect.Request[GetReferralStatsRequest],
) (*connect.Response[GetReferralStatsResponse], error) {
	identity, err := s.auth.Require(req.Header())
	if err != nil {
		return nil, toConnectError(s.log, GetReferralStatsProcedure, err)
	}

	stats, err := s.program.Stats(ctx, identity.UserID)
	if err != nil {
		return nil, toConnectError(s.log, GetReferralStatsProcedure, err)
	}

	return connect.NewResponse(&GetReferralStatsResponse{
		ReferralCode:   stats.ReferralCode,
		ReferralsCount: stats.ReferralsCount,
		RewardsCount:   stats.RewardsCount,
		TotalEarned:    stats.TotalEarned.StringFixed(2),
	}), nil
}

// GetReferralHistory returns rewards credited to the caller
func (s *ReferralServer) GetReferralHistory(
	ctx context.Context,
	req *connect.Request[GetReferralHistoryRequest],
) (*connect.Response[GetReferralHistoryResponse], error) {
	identity, err := s.auth.Require(req.Header())
	if err != nil {
		return nil, toConnectError(s.log, GetReferralHistoryProcedure, err)
	}

	rewards, err := s.program.History(ctx, identity.UserID)
	if err != nil {
		return nil, toConnectError(s.log, GetReferralHistoryProcedure, err)
	}
	if rewards == nil {
		rewards = []model.ReferralReward{}
	}

	return connect.NewResponse(&GetReferralHistoryResponse{Rewards: rewards}), nil
}
