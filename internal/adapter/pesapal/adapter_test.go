package pesapal

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/rental-checkout/internal/adapter"
)

type stubAPI struct {
	configErr    error
	notification string
	notifyErr    error
	submitResp   SubmitOrderResponse
	submitErr    error
	statusResp   TransactionStatusResponse
	statusErr    error

	notifyCalls int
	submitted   []SubmitOrderRequest
	statusIDs   []string
}

func (s *stubAPI) Configured() error { return s.configErr }

func (s *stubAPI) NotificationID(ctx context.Context) (string, error) {
	s.notifyCalls++
	return s.notification, s.notifyErr
}

func (s *stubAPI) SubmitOrderRequest(ctx context.Context, req SubmitOrderRequest) (SubmitOrderResponse, error) {
	s.submitted = append(s.submitted, req)
	return s.submitResp, s.submitErr
}

func (s *stubAPI) GetTransactionStatus(ctx context.Context, id string) (TransactionStatusResponse, error) {
	s.statusIDs = append(s.statusIDs, id)
	return s.statusResp, s.statusErr
}

func (s *stubAPI) networkTouched() bool {
	return s.notifyCalls > 0 || len(s.submitted) > 0 || len(s.statusIDs) > 0
}

func validOrder() adapter.OrderRequest {
	return adapter.OrderRequest{
		ID:          "BK-1717200000000-A1B2C3D",
		Currency:    "USD",
		Amount:      160,
		Description: "Car Rental: Toyota RAV4 (self-drive)",
		CallbackURL: "https://rentals.example.com/booking/callback",
		BillingAddress: adapter.BillingAddress{
			EmailAddress: "jane@example.com",
			PhoneNumber:  "+256700000000",
			FirstName:    "Jane",
			LastName:     "Doe",
			CountryCode:  "UG",
		},
	}
}

func okSubmit() SubmitOrderResponse {
	return SubmitOrderResponse{
		OrderTrackingID: "trk-123",
		RedirectURL:     "https://cybqa.pesapal.com/iframe?OrderTrackingId=trk-123",
		Status:          "200",
	}
}

func TestNewAdapter_NilAPIPanics(t *testing.T) {
	assert.Panics(t, func() { NewAdapter(nil, "") })
}

func TestAdapter_Name(t *testing.T) {
	assert.Equal(t, "pesapal", NewAdapter(&stubAPI{}, "").Name())
}

func TestAdapter_SubmitOrder_Success(t *testing.T) {
	api := &stubAPI{notification: "ipn-1", submitResp: okSubmit()}
	a := NewAdapter(api, "")

	res, err := a.SubmitOrder(context.Background(), validOrder())
	require.NoError(t, err)
	assert.Equal(t, "trk-123", res.OrderTrackingID)
	assert.Equal(t, "BK-1717200000000-A1B2C3D", res.MerchantReference)
	assert.Equal(t, "https://cybqa.pesapal.com/iframe?OrderTrackingId=trk-123", res.RedirectURL)
	assert.Equal(t, "200", res.Status)

	require.Len(t, api.submitted, 1)
	sent := api.submitted[0]
	assert.Equal(t, "ipn-1", sent.NotificationID)
	assert.Equal(t, 160.0, sent.Amount)
	assert.Equal(t, "jane@example.com", sent.BillingAddress.EmailAddress)
	assert.Equal(t, "UG", sent.BillingAddress.CountryCode)
}

func TestAdapter_SubmitOrder_DefaultStatus(t *testing.T) {
	resp := okSubmit()
	resp.Status = ""
	a := NewAdapter(&stubAPI{notification: "ipn-1", submitResp: resp}, "")

	res, err := a.SubmitOrder(context.Background(), validOrder())
	require.NoError(t, err)
	assert.Equal(t, "OK", res.Status)
}

func TestAdapter_SubmitOrder_MissingEmailNeverReachesNetwork(t *testing.T) {
	api := &stubAPI{notification: "ipn-1", submitResp: okSubmit()}
	a := NewAdapter(api, "")

	req := validOrder()
	req.BillingAddress.EmailAddress = ""
	_, err := a.SubmitOrder(context.Background(), req)
	require.Error(t, err)
	assert.True(t, adapter.IsValidation(err))
	assert.Contains(t, err.Error(), "billing_address.email_address")
	assert.False(t, api.networkTouched())

	var gwErr *adapter.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, []string{"billing_address.email_address"}, gwErr.Fields)
}

func TestAdapter_SubmitOrder_ConfigurationCheckedFirst(t *testing.T) {
	api := &stubAPI{configErr: adapter.NewConfigError("pesapal: configuration", "Pesapal credentials not configured")}
	a := NewAdapter(api, "")

	req := validOrder()
	req.BillingAddress.EmailAddress = ""
	_, err := a.SubmitOrder(context.Background(), req)
	require.Error(t, err)
	assert.True(t, adapter.IsConfiguration(err))
	assert.False(t, adapter.IsValidation(err))
	assert.False(t, api.networkTouched())
}

func TestAdapter_SubmitOrder_CallbackFallback(t *testing.T) {
	t.Run("UsesDefault", func(t *testing.T) {
		api := &stubAPI{notification: "ipn-1", submitResp: okSubmit()}
		a := NewAdapter(api, "https://rentals.example.com/default-callback")
		req := validOrder()
		req.CallbackURL = ""

		_, err := a.SubmitOrder(context.Background(), req)
		require.NoError(t, err)
		require.Len(t, api.submitted, 1)
		assert.Equal(t, "https://rentals.example.com/default-callback", api.submitted[0].CallbackURL)
	})

	t.Run("NoDefault", func(t *testing.T) {
		api := &stubAPI{notification: "ipn-1", submitResp: okSubmit()}
		a := NewAdapter(api, "")
		req := validOrder()
		req.CallbackURL = ""

		_, err := a.SubmitOrder(context.Background(), req)
		require.Error(t, err)
		assert.True(t, adapter.IsValidation(err))
		assert.Contains(t, err.Error(), "callback_url")
		assert.False(t, api.networkTouched())
	})
}

func TestAdapter_SubmitOrder_Errors(t *testing.T) {
	t.Run("NotificationError", func(t *testing.T) {
		api := &stubAPI{notifyErr: adapter.NewConfigError("pesapal: notification id", "missing IPN configuration")}
		_, err := NewAdapter(api, "").SubmitOrder(context.Background(), validOrder())
		require.Error(t, err)
		assert.True(t, adapter.IsConfiguration(err))
		assert.Empty(t, api.submitted)
	})

	t.Run("ProviderRejection", func(t *testing.T) {
		api := &stubAPI{notification: "ipn-1", submitErr: adapter.NewProviderError("pesapal: submit order", "invalid_amount", "Amount is invalid")}
		_, err := NewAdapter(api, "").SubmitOrder(context.Background(), validOrder())
		require.Error(t, err)
		assert.True(t, adapter.IsProvider(err))
		assert.Contains(t, err.Error(), "Amount is invalid")
	})

	t.Run("TransportFailure", func(t *testing.T) {
		api := &stubAPI{notification: "ipn-1", submitErr: adapter.NewTransportError("pesapal: submit order", errors.New("connection reset"))}
		_, err := NewAdapter(api, "").SubmitOrder(context.Background(), validOrder())
		require.Error(t, err)
		assert.True(t, adapter.IsTransport(err))
	})

	t.Run("NoRedirectURL", func(t *testing.T) {
		resp := okSubmit()
		resp.RedirectURL = ""
		api := &stubAPI{notification: "ipn-1", submitResp: resp}
		_, err := NewAdapter(api, "").SubmitOrder(context.Background(), validOrder())
		require.Error(t, err)
		assert.True(t, adapter.IsProvider(err))
		assert.Contains(t, err.Error(), "no redirect URL received from payment gateway")
	})
}

func TestAdapter_GetTransactionStatus(t *testing.T) {
	cases := []struct {
		description string
		want        adapter.PaymentStatus
	}{
		{"Completed", adapter.StatusSuccess},
		{"COMPLETED", adapter.StatusSuccess},
		{"Failed", adapter.StatusFailed},
		{"Cancelled", adapter.StatusCancelled},
		{"Reversed", adapter.StatusPending},
		{"INVALID", adapter.StatusPending},
		{"", adapter.StatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.description, func(t *testing.T) {
			api := &stubAPI{statusResp: TransactionStatusResponse{
				PaymentStatusDescription: tc.description,
				Amount:                   160,
				Currency:                 "USD",
				PaymentMethod:            "MpesaKE",
				MerchantReference:        "BK-1",
				ConfirmationCode:         "QK12345",
			}}
			st, err := NewAdapter(api, "").GetTransactionStatus(context.Background(), " trk-1 ")
			require.NoError(t, err)
			assert.Equal(t, tc.want, st.Status)
			assert.Equal(t, tc.description, st.StatusDescription)
			assert.Equal(t, 160.0, st.Amount)
			assert.Equal(t, "MpesaKE", st.PaymentMethod)
			assert.Equal(t, "QK12345", st.ConfirmationCode)
			assert.Equal(t, []string{"trk-1"}, api.statusIDs)
		})
	}
}

func TestAdapter_GetTransactionStatus_Errors(t *testing.T) {
	t.Run("EmptyTrackingID", func(t *testing.T) {
		api := &stubAPI{}
		_, err := NewAdapter(api, "").GetTransactionStatus(context.Background(), "  ")
		require.Error(t, err)
		assert.True(t, adapter.IsValidation(err))
		assert.False(t, api.networkTouched())
	})

	t.Run("NotConfigured", func(t *testing.T) {
		api := &stubAPI{configErr: adapter.NewConfigError("pesapal: configuration", "missing")}
		_, err := NewAdapter(api, "").GetTransactionStatus(context.Background(), "trk-1")
		require.Error(t, err)
		assert.True(t, adapter.IsConfiguration(err))
		assert.False(t, api.networkTouched())
	})

	t.Run("ProviderError", func(t *testing.T) {
		api := &stubAPI{statusErr: adapter.NewProviderError("pesapal: transaction status", "invalid_tracking_id", "Order tracking id is invalid")}
		_, err := NewAdapter(api, "").GetTransactionStatus(context.Background(), "trk-1")
		require.Error(t, err)
		assert.True(t, adapter.IsProvider(err))
	})
}

func TestAdapter_WithRealClientRejectsBeforeNetwork(t *testing.T) {
	fake := &fakePesapal{}
	client, _ := newTestClient(t, fake, nil)
	a := NewAdapter(client, "")

	req := validOrder()
	req.BillingAddress.EmailAddress = ""
	_, err := a.SubmitOrder(context.Background(), req)
	require.Error(t, err)
	assert.True(t, adapter.IsValidation(err))
	assert.Equal(t, int32(0), fake.tokenCalls.Load())
	assert.Equal(t, int32(0), fake.submitCalls.Load())
	assert.Equal(t, int32(0), fake.ipnCalls.Load())

	res, err := a.SubmitOrder(context.Background(), validOrder())
	require.NoError(t, err)
	assert.Equal(t, "b945e4af-80a5-4ec1-8706-e03f8332fb04", res.OrderTrackingID)
	assert.Equal(t, int32(1), fake.ipnCalls.Load())

	st, err := a.GetTransactionStatus(context.Background(), res.OrderTrackingID)
	require.NoError(t, err)
	assert.Equal(t, adapter.StatusSuccess, st.Status)
	assert.Equal(t, int32(1), fake.tokenCalls.Load())
}
