package service

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
)

const (
	// AppointmentServiceName is the fully-qualified name of the appointment service
	AppointmentServiceName = "viewing.v1.AppointmentService"
	// ReferralServiceName is the fully-qualified name of the referral service
	ReferralServiceName = "viewing.v1.ReferralService"
)

// Procedure paths, in the form Connect routes them
const (
	BookAppointmentProcedure     = "/viewing.v1.AppointmentService/BookAppointment"
	ConfirmAppointmentProcedure  = "/viewing.v1.AppointmentService/ConfirmAppointment"
	RejectAppointmentProcedure   = "/viewing.v1.AppointmentService/RejectAppointment"
	CancelAppointmentProcedure   = "/viewing.v1.AppointmentService/CancelAppointment"
	CheckInProcedure             = "/viewing.v1.AppointmentService/CheckIn"
	ListAppointmentsProcedure    = "/viewing.v1.AppointmentService/ListAppointments"
	ProcessNoShowsProcedure      = "/viewing.v1.AppointmentService/ProcessNoShows"
	VerifyReferralCodeProcedure  = "/viewing.v1.ReferralService/VerifyReferralCode"
	ApplySignupReferralProcedure = "/viewing.v1.ReferralService/ApplySignupReferral"
	GetReferralStatsProcedure    = "/viewing.v1.ReferralService/GetReferralStats"
	GetReferralHistoryProcedure  = "/viewing.v1.ReferralService/GetReferralHistory"
)

// NewAppointmentServiceHandler builds an HTTP handler for the appointment
// service. It returns the path on which to mount the handler and the handler itself.
func NewAppointmentServiceHandler(svc *AppointmentServer, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{WithJSON()}, opts...)

	mux := http.NewServeMux()
	mux.Handle(BookAppointmentProcedure, connect.NewUnaryHandler(BookAppointmentProcedure, svc.BookAppointment, opts...))
	mux.Handle(ConfirmAppointmentProcedure, connect.NewUnaryHandler(ConfirmAppointmentProcedure, svc.ConfirmAppointment, opts...))
	mux.Handle(RejectAppointmentProcedure, connect.NewUnaryHandler(RejectAppointmentProcedure, svc.RejectAppointment, opts...))
	mux.Handle(CancelAppointmentProcedure, connect.NewUnaryHandler(CancelAppointmentProcedure, svc.CancelAppointment, opts...))
	mux.Handle(CheckInProcedure, connect.NewUnaryHandler(CheckInProcedure, svc.CheckIn, opts...))
	mux.Handle(ListAppointmentsProcedure, connect.NewUnaryHandler(ListAppointmentsProcedure, svc.ListAppointments, opts...))
	mux.Handle(ProcessNoShowsProcedure, connect.NewUnaryHandler(ProcessNoShowsProcedure, svc.ProcessNoShows, opts...))

	return "/" + AppointmentServiceName + "/", mux
}

// NewReferralServiceHandler builds an HTTP handler for the referral service
func NewReferralServiceHandler(svc *ReferralServer, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{WithJSON()}, opts...)

	mux := http.NewServeMux()
	mux.Handle(VerifyReferralCodeProcedure, connect.NewUnaryHandler(VerifyReferralCodeProcedure, svc.VerifyReferralCode, opts...))
	mux.Handle(ApplySignupReferralProcedure, connect.NewUnaryHandler(ApplySignupReferralProcedure, svc.ApplySignupReferral, opts...))
	mux.Handle(GetReferralStatsProcedure, connect.NewUnaryHandler(GetReferralStatsProcedure, svc.GetReferralStats, opts...))
	mux.Handle(GetReferralHistoryProcedure, connect.NewUnaryHandler(GetReferralHistoryProcedure, svc.GetReferralHistory, opts...))

	return "/" + ReferralServiceName + "/", mux
}

// AppointmentServiceClient is a client for the appointment service
type AppointmentServiceClient struct {
	bookAppointment    *connect.Client[BookAppointmentRequest, BookAppointmentResponse]
	confirmAppointment *connect.Client[ConfirmAppointmentRequest, ConfirmAppointmentResponse]
	rejectAppointment  *connect.Client[AppointmentRequest, AppointmentResponse]
	cancelAppointment  *connect.Client[AppointmentRequest, AppointmentResponse]
	checkIn            *connect.Client[CheckInRequest, CheckInResponse]
	listAppointments   *connect.Client[ListAppointmentsRequest, ListAppointmentsResponse]
	processNoShows     *connect.Client[ProcessNoShowsRequest, ProcessNoShowsResponse]
}

// NewAppointmentServiceClient constructs a client for the appointment service
// at baseURL (for example http://localhost:8080)
func NewAppointmentServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *AppointmentServiceClient {
	opts = append([]connect.ClientOption{WithJSON()}, opts...)
	return &AppointmentServiceClient{
		bookAppointment:    connect.NewClient[BookAppointmentRequest, BookAppointmentResponse](httpClient, baseURL+BookAppointmentProcedure, opts...),
		confirmAppointment: connect.NewClient[ConfirmAppointmentRequest, ConfirmAppointmentResponse](httpClient, baseURL+ConfirmAppointmentProcedure, opts...),
		rejectAppointment:  connect.NewClient[AppointmentRequest, AppointmentResponse](httpClient, baseURL+RejectAppointmentProcedure, opts...),
		cancelAppointment:  connect.NewClient[AppointmentRequest, AppointmentResponse](httpClient, baseURL+CancelAppointmentProcedure, opts...),
		checkIn:            connect.NewClient[CheckInRequest, CheckInResponse](httpClient, baseURL+CheckInProcedure, opts...),
		listAppointments:   connect.NewClient[ListAppointmentsRequest, ListAppointmentsResponse](httpClient, baseURL+ListAppointmentsProcedure, opts...),
		processNoShows:     connect.NewClient[ProcessNoShowsRequest, ProcessNoShowsResponse](httpClient, baseURL+ProcessNoShowsProcedure, opts...),
	}
}

func (c *AppointmentServiceClient) BookAppointment(ctx context.Context, req *connect.Request[BookAppointmentRequest]) (*connect.Response[BookAppointmentResponse], error) {
	return c.bookAppointment.CallUnary(ctx, req)
}

func (c *AppointmentServiceClient) ConfirmAppointment(ctx context.Context, req *connect.Request[ConfirmAppointmentRequest]) (*connect.Response[ConfirmAppointmentResponse], error) {
	return c.confirmAppointment.CallUnary(ctx, req)
}

func (c *AppointmentServiceClient) RejectAppointment(ctx context.Context, req *connect.Request[AppointmentRequest]) (*connect.Response[AppointmentResponse], error) {
	return c.rejectAppointment.CallUnary(ctx, req)
}

func (c *AppointmentServiceClient) CancelAppointment(ctx context.Context, req *connect.Request[AppointmentRequest]) (*connect.Response[AppointmentResponse], error) {
	return c.cancelAppointment.CallUnary(ctx, req)
}

func (c *AppointmentServiceClient) CheckIn(ctx context.Context, req *connect.Request[CheckInRequest]) (*connect.Response[CheckInResponse], error) {
	return c.checkIn.CallUnary(ctx, req)
}

func (c *AppointmentServiceClient) ListAppointments(ctx context.Context, req *connect.Request[ListAppointmentsRequest]) (*connect.Response[ListAppointmentsResponse], error) {
	return c.listAppointments.CallUnary(ctx, req)
}

func (c *AppointmentServiceClient) ProcessNoShows(ctx context.Context, req *connect.Request[ProcessNoShowsRequest]) (*connect.Response[ProcessNoShowsResponse], error) {
	return c.processNoShows.CallUnary(ctx, req)
}

// ReferralServiceClient is a client for the referral service
type ReferralServiceClient struct {
	verifyReferralCode  *connect.Client[VerifyReferralCodeRequest, VerifyReferralCodeResponse]
	applySignupReferral *connect.Client[ApplySignupReferralRequest, ApplySignupReferralResponse]
	getReferralStats    *connect.Client[GetReferralStatsRequest, GetReferralStatsResponse]
	getReferralHistory  *connect.Client[GetReferralHistoryRequest, GetReferralHistoryResponse]
}

// NewReferralServiceClient constructs a client for the referral service
func NewReferralServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *ReferralServiceClient {
	opts = append([]connect.ClientOption{WithJSON()}, opts...)
	return &ReferralServiceClient{
		verifyReferralCode:  connect.NewClient[VerifyReferralCodeRequest, VerifyReferralCodeResponse](httpClient, baseURL+VerifyReferralCodeProcedure, opts...),
		applySignupReferral: connect.NewClient[ApplySignupReferralRequest, ApplySignupReferralResponse](httpClient, baseURL+ApplySignupReferralProcedure, opts...),
		getReferralStats:    connect.NewClient[GetReferralStatsRequest, GetReferralStatsResponse](httpClient, baseURL+GetReferralStatsProcedure, opts...),
		getReferralHistory:  connect.NewClient[GetReferralHistoryRequest, GetReferralHistoryResponse](httpClient, baseURL+GetReferralHistoryProcedure, opts...),
	}
}

func (c *ReferralServiceClient) VerifyReferralCode(ctx context.Context, req *connect.Request[VerifyReferralCodeRequest]) (*connect.Response[VerifyReferralCodeResponse], error) {
	return c.verifyReferralCode.CallUnary(ctx, req)
}

func (c *ReferralServiceClient) ApplySignupReferral(ctx context.Context, req *connect.Request[ApplySignupReferralRequest]) (*connect.Response[ApplySignupReferralResponse], error) {
	return c.applySignupReferral.CallUnary(ctx, req)
}

func (c *ReferralServiceClient) GetReferralStats(ctx context.Context, req *connect.Request[GetReferralStatsRequest]) (*connect.Response[GetReferralStatsResponse], error) {
	return c.getReferralStats.CallUnary(ctx, req)
}

func (c *ReferralServiceClient) GetReferralHistory(ctx context.Context, req *connect.Request[GetReferralHistoryRequest]) (*connect.Response[GetReferralHistoryResponse], error) {
	return c.getReferralHistory.CallUnary(ctx, req)
}
