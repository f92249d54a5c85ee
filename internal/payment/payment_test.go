package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eduvia/portal/internal/enrollment"
	"eduvia/portal/internal/exam"
)

type fakeProvider struct {
	created  Checkout
	sessions map[string]Session
}

func (f *fakeProvider) CreateCheckout(_ context.Context, c Checkout) (Session, error) {
	f.created = c
	return Session{ID: "cs_1", URL: "https://pay.example/cs_1"}, nil
}

func (f *fakeProvider) Lookup(_ context.Context, id string) (Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return Session{}, errors.New("no such session")
	}
	return s, nil
}

type fakeRecorder struct {
	saved []Session
}

func (f *fakeRecorder) SavePayment(_ context.Context, s Session) error {
	f.saved = append(f.saved, s)
	return nil
}

func TestServiceStartBuildsTenantLinks(t *testing.T) {
	provider := &fakeProvider{}
	svc, err := NewService(provider, &fakeRecorder{}, "https://eduvia.space/")
	require.NoError(t, err)

	s, err := svc.Start(context.Background(), "gamersclub", Checkout{StudentID: "s1", CourseID: "c 1", Amount: 49.99})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/cs_1", s.URL)
	assert.Equal(t, "https://gamersclub.eduvia.space/payments/success?courseId=c+1&session_id={CHECKOUT_SESSION_ID}", provider.created.SuccessURL)
	assert.Equal(t, "https://gamersclub.eduvia.space/courses/c%201", provider.created.CancelURL)

	_, err = svc.Start(context.Background(), "gamersclub", Checkout{StudentID: "s1", CourseID: "c1"})
	assert.ErrorIs(t, err, ErrInvalidCheckout)

	_, err = NewService(provider, &fakeRecorder{}, "not a url")
	assert.Error(t, err)
}

func TestServiceComplete(t *testing.T) {
	provider := &fakeProvider{sessions: map[string]Session{
		"paid":    {ID: "paid", Paid: true, StudentID: "s1", CourseID: "c1", Amount: 10},
		"open":    {ID: "open", Paid: false, StudentID: "s1", CourseID: "c1"},
		"someone": {ID: "someone", Paid: true, StudentID: "s2", CourseID: "c1"},
		"orphan":  {ID: "orphan", Paid: true, CourseID: "c1"},
	}}
	recorder := &fakeRecorder{}
	svc, err := NewService(provider, recorder, "https://eduvia.space")
	require.NoError(t, err)
	ctx := context.Background()

	s, err := svc.Complete(ctx, "paid", "s1")
	require.NoError(t, err)
	assert.Equal(t, "c1", s.CourseID)
	require.Len(t, recorder.saved, 1)

	_, err = svc.Complete(ctx, "open", "s1")
	assert.ErrorIs(t, err, ErrNotPaid)
	_, err = svc.Complete(ctx, "someone", "s1")
	assert.ErrorIs(t, err, ErrNotPaid)
	_, err = svc.Complete(ctx, "orphan", "s1")
	assert.ErrorIs(t, err, ErrNotPaid, "a session without an owner must not be claimed")
	_, err = svc.Complete(ctx, "missing", "s1")
	assert.Error(t, err)
	assert.Len(t, recorder.saved, 1)
}

func TestServiceRecord(t *testing.T) {
	recorder := &fakeRecorder{}
	svc, err := NewService(&fakeProvider{}, recorder, "https://eduvia.space")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Record(context.Background(), Session{ID: "cs", StudentID: "s1", CourseID: "c1"}), ErrNotPaid)
	require.NoError(t, svc.Record(context.Background(), Session{ID: "cs", Paid: true, StudentID: "s1", CourseID: "c1"}))
	assert.Len(t, recorder.saved, 1)
}

type courseTable struct {
	courses   map[string]enrollment.Course
	purchased map[string]bool
}

func (c courseTable) Get(_ context.Context, id string) (enrollment.Course, error) {
	course, ok := c.courses[id]
	if !ok {
		return enrollment.Course{}, errors.New("course not found")
	}
	return course, nil
}

func (c courseTable) Purchased(_ context.Context, studentID, courseID string) (bool, error) {
	return c.purchased[studentID+"/"+courseID], nil
}

func TestExamLinker(t *testing.T) {
	provider := &fakeProvider{}
	svc, err := NewService(provider, &fakeRecorder{}, "https://eduvia.space")
	require.NoError(t, err)
	linker := NewExamLinker(svc, courseTable{
		courses: map[string]enrollment.Course{
			"paid":   {ID: "paid", Title: "Go", Fee: 25, RequiresPreliminary: true},
			"bought": {ID: "bought", Title: "Rust", Fee: 40, RequiresPreliminary: true},
			"free":   {ID: "free", Title: "Intro"},
		},
		purchased: map[string]bool{"s1/bought": true},
	})
	params := exam.Params{StudentID: "s1", SchoolName: "gamersclub", ExamType: "final", SchoolID: "school-1", Email: "s1@example.com"}

	params.CourseID = "paid"
	url, err := linker.CheckoutURL(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/cs_1", url)
	assert.Equal(t, "Go", provider.created.CourseTitle)
	assert.Equal(t, 25.0, provider.created.Amount)
	assert.Equal(t, "school-1", provider.created.SchoolID)
	assert.Equal(t, "s1@example.com", provider.created.Email)

	params.CourseID = "free"
	url, err = linker.CheckoutURL(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, "https://gamersclub.eduvia.space/courses/free", url)

	params.CourseID = "gone"
	_, err = linker.CheckoutURL(context.Background(), params)
	assert.Error(t, err)
}

func TestExamLinkerPassedButAlreadyPurchased(t *testing.T) {
	provider := &fakeProvider{}
	svc, err := NewService(provider, &fakeRecorder{}, "https://eduvia.space")
	require.NoError(t, err)
	linker := NewExamLinker(svc, courseTable{
		courses:   map[string]enrollment.Course{"bought": {ID: "bought", Title: "Rust", Fee: 40, RequiresPreliminary: true}},
		purchased: map[string]bool{"s1/bought": true},
	})

	url, err := linker.CheckoutURL(context.Background(), exam.Params{
		StudentID: "s1", CourseID: "bought", SchoolName: "gamersclub", ExamType: "final",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://gamersclub.eduvia.space/courses/bought", url)
	assert.Empty(t, provider.created.CourseID, "no checkout may be opened for a purchased course")
}

func useStripeBackend(t *testing.T, handler http.Handler) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	stripe.SetBackend(stripe.APIBackend, backend)
	t.Cleanup(func() { stripe.SetBackend(stripe.APIBackend, nil) })
}

func TestStripeCheckout(t *testing.T) {
	var form map[string][]string
	useStripeBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/checkout/sessions":
			_ = r.ParseForm()
			form = r.PostForm
			_, _ = fmt.Fprint(w, `{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/cs_test_1","payment_status":"unpaid"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/checkout/sessions/cs_test_1":
			_, _ = fmt.Fprint(w, `{"id":"cs_test_1","object":"checkout.session","payment_status":"paid","amount_total":4999,"client_reference_id":"s1","metadata":{"course_id":"c1"}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = fmt.Fprint(w, `{"error":{"type":"invalid_request_error","message":"not found"}}`)
		}
	}))
	provider := NewStripeCheckout("sk_test_123", "EUR", "")

	s, err := provider.CreateCheckout(context.Background(), Checkout{
		StudentID:   "s1",
		CourseID:    "c1",
		CourseTitle: "Go 101",
		Amount:      49.99,
		SuccessURL:  "https://gamersclub.eduvia.space/payments/success",
		CancelURL:   "https://gamersclub.eduvia.space/courses/c1",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.com/c/cs_test_1", s.URL)
	assert.False(t, s.Paid)
	assert.Equal(t, []string{"4999"}, form["line_items[0][price_data][unit_amount]"])
	assert.Equal(t, []string{"eur"}, form["line_items[0][price_data][currency]"])
	assert.Equal(t, []string{"c1"}, form["metadata[course_id]"])

	s, err = provider.Lookup(context.Background(), "cs_test_1")
	require.NoError(t, err)
	assert.True(t, s.Paid)
	assert.Equal(t, "s1", s.StudentID)
	assert.Equal(t, "c1", s.CourseID)
	assert.InDelta(t, 49.99, s.Amount, 0.001)

	_, err = provider.Lookup(context.Background(), "cs_missing")
	assert.Error(t, err)
}

func TestStripeWebhook(t *testing.T) {
	provider := NewStripeCheckout("sk_test_123", "usd", "whsec_test")
	event := map[string]interface{}{
		"id":          "evt_1",
		"object":      "event",
		"api_version": stripe.APIVersion,
		"type":        "checkout.session.completed",
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":             "cs_1",
				"object":         "checkout.session",
				"payment_status": "paid",
				"amount_total":   1000,
				"metadata":       map[string]string{"student_id": "s1", "course_id": "c1"},
			},
		},
	}
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_test",
		Timestamp: time.Now(),
	})

	s, ok, err := provider.ParseWebhook(payload, signed.Header)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Session{ID: "cs_1", Paid: true, StudentID: "s1", CourseID: "c1", Amount: 10}, s)

	_, _, err = provider.ParseWebhook(payload, strings.Replace(signed.Header, "v1=", "v1=00", 1))
	assert.Error(t, err)

	event["type"] = "invoice.paid"
	other, _ := json.Marshal(event)
	signed = webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: other, Secret: "whsec_test", Timestamp: time.Now()})
	_, ok, err = provider.ParseWebhook(other, signed.Header)
	require.NoError(t, err)
	assert.False(t, ok)
}
