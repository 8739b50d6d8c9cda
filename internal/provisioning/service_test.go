package provisioning

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-dialer/internal/pricing"
	"crm-dialer/internal/reporting"
	"crm-dialer/internal/telephony"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

var master = pricing.Credentials{AccountSid: "AC-master", AuthToken: "master-token"}

func newTestService(tw *fakeTwilio, providers *fakeProviders) (*Service, *MemoryRepo) {
	repo := NewMemoryRepo()
	reports := &reporting.Service{Now: func() time.Time { return testNow }}
	svc := NewService(Config{Master: master, VoiceAppURL: "https://voice/api/voice"}, repo, tw.factory(), providers, reports, nil)
	svc.now = func() time.Time { return testNow }
	n := 0
	svc.newID = func() string {
		n++
		return "id-" + strconv.Itoa(n)
	}
	return svc, repo
}

func boughtNumber() telephony.IncomingNumber {
	return telephony.IncomingNumber{
		Sid:          "PN1",
		PhoneNumber:  "+15550001111",
		FriendlyName: "(555) 000-1111",
		Capabilities: telephony.Capabilities{Voice: true, SMS: true},
	}
}

func TestPurchaseNumber_NewSubaccount(t *testing.T) {
	ctx := context.Background()
	tw := &fakeTwilio{bought: boughtNumber()}
	providers := &fakeProviders{}
	svc, repo := newTestService(tw, providers)

	res, err := svc.PurchaseNumber(ctx, "tok", PurchaseInput{
		Email: "Owner@Example.com", PhoneNumber: "+15550001111", PaymentStatus: "paid", PricePaid: decimal.RequireFromString("1.15"),
	})
	require.NoError(t, err)
	assert.Equal(t, PurchaseResult{PaymentStatus: "paid", Status: NumberPurchased}, res)
	assert.Equal(t, []string{"owner@example.com"}, tw.created)

	sub, err := repo.SubaccountByEmail(ctx, "OWNER@example.com")
	require.NoError(t, err)
	assert.Equal(t, "AC-sub", sub.AccountSid)
	assert.Equal(t, SubaccountActive, sub.Status)

	nums := repo.Numbers()
	require.Len(t, nums, 1)
	assert.Equal(t, NumberPurchased, nums[0].Status)
	assert.Equal(t, "PN1", nums[0].PhoneSid)
	assert.Equal(t, "MG1", nums[0].MessagingServiceSid)
	assert.True(t, nums[0].PricePaid.Equal(decimal.RequireFromString("1.15")))

	require.Len(t, providers.sms, 1)
	require.Len(t, providers.voice, 1)
	assert.Equal(t, "15550001111", providers.voice[0].PhoneNumber)
	assert.Equal(t, "AP1", providers.voice[0].TwimlAppSid)
	assert.Equal(t, "SK1", providers.voice[0].APIKey)
	assert.Equal(t, "US", providers.sms[0].Country)

	require.Len(t, tw.updates, 2)
	assert.Equal(t, "MG1", tw.updates[0].MessagingServiceSid)
	assert.Equal(t, "AP1", tw.updates[1].VoiceApplicationSid)
}

func TestPurchaseNumber_ReusesSubaccount(t *testing.T) {
	ctx := context.Background()
	tw := &fakeTwilio{bought: boughtNumber()}
	svc, repo := newTestService(tw, &fakeProviders{})

	_, err := svc.PurchaseNumber(ctx, "tok", PurchaseInput{Email: "a@b.co", PhoneNumber: "+15550001111"})
	require.NoError(t, err)
	tw.bought.Sid = "PN2"
	_, err = svc.PurchaseNumber(ctx, "tok", PurchaseInput{Email: "a@b.co", PhoneNumber: "+15550002222"})
	require.NoError(t, err)

	assert.Len(t, tw.created, 1)
	assert.Len(t, repo.Numbers(), 2)
}

func TestPurchaseNumber_ValidationFailureKeepsNewSubaccount(t *testing.T) {
	ctx := context.Background()
	tw := &fakeTwilio{validateErr: errors.New("unverifiable")}
	svc, repo := newTestService(tw, &fakeProviders{})

	_, err := svc.PurchaseNumber(ctx, "tok", PurchaseInput{Email: "a@b.co", PhoneNumber: "+15550001111"})
	require.ErrorIs(t, err, ErrValidationFailed)

	_, err = repo.SubaccountByEmail(ctx, "a@b.co")
	assert.NoError(t, err)
	assert.Empty(t, repo.Numbers())
}

func TestPurchaseNumber_BuyFailureStoresFailedNumber(t *testing.T) {
	ctx := context.Background()
	tw := &fakeTwilio{buyErr: errors.New("number taken")}
	providers := &fakeProviders{}
	svc, repo := newTestService(tw, providers)

	_, err := svc.PurchaseNumber(ctx, "tok", PurchaseInput{Email: "a@b.co", PhoneNumber: "+15550001111", PaymentStatus: "paid"})
	require.ErrorIs(t, err, ErrPurchaseFailed)

	nums := repo.Numbers()
	require.Len(t, nums, 1)
	assert.Equal(t, NumberFailed, nums[0].Status)
	assert.Empty(t, nums[0].PhoneSid)
	assert.Empty(t, providers.voice)
}

func TestPurchaseNumber_RejectsBadInput(t *testing.T) {
	svc, _ := newTestService(&fakeTwilio{}, &fakeProviders{})
	for _, in := range []PurchaseInput{
		{Email: "not-an-email", PhoneNumber: "+1555"},
		{Email: "a@b.co"},
	} {
		_, err := svc.PurchaseNumber(context.Background(), "tok", in)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	}
}

func TestSearchNumbers(t *testing.T) {
	tw := &fakeTwilio{available: map[telephony.NumberType][]telephony.AvailableNumber{
		telephony.NumberLocal:    {{PhoneNumber: "+1"}},
		telephony.NumberTollFree: {{PhoneNumber: "+2"}},
	}}
	svc, _ := newTestService(tw, &fakeProviders{})

	in := SearchInput{Country: "US", Digits: "555", NumberTypes: NumberTypes{Local: true, TollFree: true}}
	nums, err := svc.SearchNumbers(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, nums, 2)
	assert.Equal(t, "+1", nums[0].PhoneNumber)
	assert.Equal(t, "+2", nums[1].PhoneNumber)
	assert.Equal(t, 100, tw.filters[0].Limit)
	assert.Equal(t, "555", tw.filters[0].Contains)
	assert.Nil(t, tw.filters[0].VoiceEnabled)
	assert.Equal(t, master.AccountSid, tw.accounts[0])

	_, err = svc.SearchNumbers(context.Background(), SearchInput{})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCredentialsFor(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(&fakeTwilio{}, &fakeProviders{})
	require.NoError(t, repo.SaveProvisioning(ctx, Subaccount{ID: "s1", Email: "a@b.co", CRMToken: "tok", AccountSid: "AC-sub", AuthToken: "sub-token", Status: SubaccountActive}, true, nil))

	c, err := svc.CredentialsFor(ctx, "AC-master")
	require.NoError(t, err)
	assert.Equal(t, master, c)

	tok, err := svc.AuthTokenFor(ctx, "AC-sub")
	require.NoError(t, err)
	assert.Equal(t, "sub-token", tok)

	_, err = svc.CredentialsFor(ctx, "AC-unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCloseSubaccount(t *testing.T) {
	ctx := context.Background()
	tw := &fakeTwilio{}
	svc, repo := newTestService(tw, &fakeProviders{})
	require.NoError(t, repo.SaveProvisioning(ctx, Subaccount{ID: "s1", Email: "a@b.co", CRMToken: "tok", AccountSid: "AC-sub", Status: SubaccountActive}, true, nil))

	require.NoError(t, svc.CloseSubaccount(ctx, "tok"))
	assert.Equal(t, []string{"AC-sub"}, tw.closed)

	sub, err := repo.SubaccountByAccountSid(ctx, "AC-sub")
	require.NoError(t, err)
	assert.Equal(t, SubaccountInactive, sub.Status)

	assert.ErrorIs(t, svc.CloseSubaccount(ctx, "tok"), ErrNotFound)
}

func TestAssignMember_EmptyKeepsCurrent(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(&fakeTwilio{bought: boughtNumber()}, &fakeProviders{})
	_, err := svc.PurchaseNumber(ctx, "tok", PurchaseInput{Email: "a@b.co", PhoneNumber: "+15550001111"})
	require.NoError(t, err)

	require.NoError(t, svc.AssignMember(ctx, "tok", "PN1", "Agent@B.co"))
	require.NoError(t, svc.AssignMember(ctx, "tok", "PN1", ""))
	assert.Equal(t, "agent@b.co", repo.Numbers()[0].MemberEmail)

	assert.ErrorIs(t, svc.AssignMember(ctx, "other", "PN1", "x@y.co"), ErrNotFound)
}

func TestCallStatisticsUsesSubaccountCalls(t *testing.T) {
	ctx := context.Background()
	tw := &fakeTwilio{calls: []telephony.Call{
		{Sid: "CA1", From: "+15551230000", To: "+15550001111", Direction: "inbound", Status: "completed", Duration: "65"},
		{Sid: "CA2", From: "+15550001111", To: "+15551230000", Direction: "outbound-api", Status: "no-answer", Duration: "0"},
		{Sid: "CA3", From: "+15550001111", To: "client:agent", Direction: "outbound-dial", Status: "completed", Duration: "60"},
	}}
	svc, repo := newTestService(tw, &fakeProviders{})
	require.NoError(t, repo.SaveProvisioning(ctx, Subaccount{ID: "s1", Email: "a@b.co", CRMToken: "tok", AccountSid: "AC-sub", Status: SubaccountActive}, true, nil))

	stats, err := svc.CallStatistics(ctx, "tok", "15550001111")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalCalls)
	assert.Equal(t, 1, stats.MissedCalls)
	assert.Equal(t, "1m 5s", stats.AverageCallDuration)

	page, err := svc.CallLogs(ctx, "tok", reporting.LogQuery{VoiceNumber: "15550001111", Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, page.Logs, 2)
	assert.Equal(t, "https://rec/CA1", page.Logs[0].RecordingURL)
}
