package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copyRiskBot/internal/ports"
)

func TestAdmissionEvaluate(t *testing.T) {
	// Fraction 0.5 of a 200 daily budget caps open risk at 100.
	ctrl := NewAdmissionController(AdmissionConfig{Fraction: 0.5})
	facts := testFacts()

	tests := []struct {
		name           string
		openRisk       float64
		remainingDaily float64
		quantity       float64
		stopPoints     float64
		wantQty        float64
		wantRisk       float64
		wantShrunk     bool
		wantErr        error
	}{
		{
			name:           "fits with room to spare",
			openRisk:       0,
			remainingDaily: 200,
			quantity:       0.6,
			stopPoints:     50,
			wantQty:        0.6,
			wantRisk:       30,
		},
		{
			name:           "second trade still fits under the cap",
			openRisk:       30,
			remainingDaily: 200,
			quantity:       0.6,
			stopPoints:     50,
			wantQty:        0.6,
			wantRisk:       30,
		},
		{
			name:           "exactly at the cap is admitted",
			openRisk:       60,
			remainingDaily: 200,
			quantity:       0.8,
			stopPoints:     50,
			wantQty:        0.8,
			wantRisk:       40,
		},
		{
			name:           "oversized trade shrinks to the headroom",
			openRisk:       60,
			remainingDaily: 200,
			quantity:       1.0,
			stopPoints:     50,
			wantQty:        0.8, // 40 headroom / 50 per unit
			wantRisk:       40,
			wantShrunk:     true,
		},
		{
			name:           "no headroom rejects outright",
			openRisk:       100,
			remainingDaily: 200,
			quantity:       0.1,
			stopPoints:     50,
			wantErr:        ports.ErrAdmissionRejected,
		},
		{
			name:           "headroom below one lot rejects",
			openRisk:       99.8,
			remainingDaily: 200,
			quantity:       0.1,
			stopPoints:     50,
			wantErr:        ports.ErrAdmissionRejected, // 0.2 headroom fits 0.004, floors to 0
		},
		{
			name:           "exhausted daily budget rejects before the cap math",
			openRisk:       0,
			remainingDaily: 0,
			quantity:       0.1,
			stopPoints:     50,
			wantErr:        ports.ErrInsufficientBudget,
		},
		{
			name:           "zero stop distance is rejected as unsizable",
			openRisk:       0,
			remainingDaily: 200,
			quantity:       0.1,
			stopPoints:     0,
			wantErr:        ports.ErrSizingInfeasible,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, err := ctrl.Evaluate(tt.openRisk, tt.remainingDaily, tt.quantity, tt.stopPoints, facts)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.wantQty, dec.Quantity, 1e-9)
			assert.InDelta(t, tt.wantRisk, dec.RiskAmount, 1e-9)
			assert.Equal(t, tt.wantShrunk, dec.Shrunk)
		})
	}
}

func TestAdmissionReservations(t *testing.T) {
	ctrl := NewAdmissionController(AdmissionConfig{Fraction: 0.5})

	ctrl.Reserve("1001", 30)
	ctrl.Reserve("1002", 30)
	assert.InDelta(t, 60.0, ctrl.PendingRisk(), 1e-9)

	// A commit moves the risk into the position book; the reservation goes away.
	ctrl.Commit("1001")
	assert.InDelta(t, 30.0, ctrl.PendingRisk(), 1e-9)

	// A release simply frees the budget.
	ctrl.Release("1002")
	assert.Zero(t, ctrl.PendingRisk())

	// Releasing an unknown token is a no-op.
	ctrl.Release("9999")
	assert.Zero(t, ctrl.PendingRisk())
}

func TestAdmissionSerializedProposals(t *testing.T) {
	// Two proposals of 30 each fit a 100 cap only because the first
	// reservation is visible to the second evaluation.
	ctrl := NewAdmissionController(AdmissionConfig{Fraction: 0.5})
	facts := testFacts()

	first, err := ctrl.Evaluate(ctrl.PendingRisk(), 200, 0.6, 50, facts)
	require.NoError(t, err)
	ctrl.Reserve("1", first.RiskAmount)

	second, err := ctrl.Evaluate(ctrl.PendingRisk(), 200, 0.6, 50, facts)
	require.NoError(t, err)
	ctrl.Reserve("2", second.RiskAmount)

	// A third asking for 50 sees 60 reserved and shrinks into the rest.
	third, err := ctrl.Evaluate(ctrl.PendingRisk(), 200, 1.0, 50, facts)
	require.NoError(t, err)
	assert.True(t, third.Shrunk)
	assert.InDelta(t, 0.8, third.Quantity, 1e-9)
	assert.InDelta(t, 40.0, third.RiskAmount, 1e-9)
}

func TestAdmissionOnlyFirstFitsInFull(t *testing.T) {
	// Two 30-risk proposals against a 50 cap: the first goes through in
	// full, the second only fits the 20 that remains.
	ctrl := NewAdmissionController(AdmissionConfig{Fraction: 0.25})
	facts := testFacts()

	first, err := ctrl.Evaluate(ctrl.PendingRisk(), 200, 0.6, 50, facts)
	require.NoError(t, err)
	assert.False(t, first.Shrunk)
	assert.InDelta(t, 30.0, first.RiskAmount, 1e-9)
	ctrl.Reserve("1", first.RiskAmount)

	second, err := ctrl.Evaluate(ctrl.PendingRisk(), 200, 0.6, 50, facts)
	require.NoError(t, err)
	assert.True(t, second.Shrunk)
	assert.InDelta(t, 0.4, second.Quantity, 1e-9)
	assert.InDelta(t, 20.0, second.RiskAmount, 1e-9)
}
