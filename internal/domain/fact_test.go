package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitiatedFact(t *testing.T) {
	tr := newTestTransfer(t)

	fact, err := InitiatedFact(tr)
	require.NoError(t, err)

	assert.Equal(t, FactTransferInitiated, fact.Type)
	assert.Equal(t, FactVersion, fact.Version)
	assert.Equal(t, FactSource, fact.Source)
	assert.Equal(t, tr.ID.String(), fact.CorrelationID)

	var payload TransferInitiated
	require.NoError(t, fact.Decode(&payload))
	assert.Equal(t, tr.ID, payload.TransferID)
	assert.True(t, tr.Amount.Equal(payload.Amount))
	assert.Equal(t, "destination@krt.bank", payload.DestinationKey)
}

func TestFailedFact_DerivesFlagsFromAggregate(t *testing.T) {
	tests := []struct {
		name               string
		drive              func(tr *Transfer)
		wantCompensated    bool
		wantFraudRejected  bool
		wantReconciliation bool
	}{
		{
			name:              "Fraud rejection",
			drive:             func(tr *Transfer) { _ = tr.Reject(approvedVerdict()) },
			wantFraudRejected: true,
		},
		{
			name: "Plain failure",
			drive: func(tr *Transfer) {
				_ = tr.Approve(approvedVerdict())
				_ = tr.StartSaga(testNow)
				_ = tr.Fail("quota exceeded", testNow)
			},
		},
		{
			name: "Compensated",
			drive: func(tr *Transfer) {
				_ = tr.Approve(approvedVerdict())
				_ = tr.StartSaga(testNow)
				_ = tr.MarkSourceDebited(testNow)
				_ = tr.Compensate("credit failed", testNow)
			},
			wantCompensated: true,
		},
		{
			name: "Reconciliation required",
			drive: func(tr *Transfer) {
				_ = tr.Approve(approvedVerdict())
				_ = tr.StartSaga(testNow)
				_ = tr.MarkSourceDebited(testNow)
				_ = tr.RequireReconciliation("compensation failed", testNow)
			},
			wantReconciliation: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTransfer(t)
			tt.drive(tr)

			fact, err := FailedFact(tr)
			require.NoError(t, err)
			assert.Equal(t, FactTransferFailed, fact.Type)

			var payload TransferFailed
			require.NoError(t, fact.Decode(&payload))
			assert.Equal(t, tt.wantCompensated, payload.Compensated)
			assert.Equal(t, tt.wantFraudRejected, payload.FraudRejected)
			assert.Equal(t, tt.wantReconciliation, payload.ReconciliationRequired)
			assert.NotEmpty(t, payload.Reason)
		})
	}
}

func TestOutcomeFacts_IDIsStablePerStatus(t *testing.T) {
	tr := newTestTransfer(t)
	require.NoError(t, tr.Approve(approvedVerdict()))
	require.NoError(t, tr.StartSaga(testNow))
	require.NoError(t, tr.MarkSourceDebited(testNow))
	require.NoError(t, tr.RequireReconciliation("compensation failed", testNow))

	first, err := FailedFact(tr)
	require.NoError(t, err)
	again, err := FailedFact(tr)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, OutcomeFactID(tr, FactTransferFailed), first.ID)

	require.NoError(t, tr.Compensate("", testNow.Add(time.Minute)))
	compensated, err := FailedFact(tr)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, compensated.ID, "a later outcome is a new fact")

	other := newTestTransfer(t)
	assert.NotEqual(t, OutcomeFactID(tr, FactTransferFailed), OutcomeFactID(other, FactTransferFailed))
}

func TestFact_EnvelopeIsCamelCaseJSON(t *testing.T) {
	fact, err := NewFact(FactFraudApproved, "corr-1", FraudVerdictFact{Score: decimal.RequireFromString("0.10")}, testNow)
	require.NoError(t, err)

	raw, err := json.Marshal(fact)
	require.NoError(t, err)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(raw, &envelope))
	for _, key := range []string{"id", "type", "version", "correlationId", "source", "occurredAt", "payload"} {
		assert.Contains(t, envelope, key)
	}
	assert.Equal(t, "FraudApproved", envelope["type"])
}

func TestFact_DecodeRejectsGarbage(t *testing.T) {
	fact := Fact{Type: FactTransferCompleted, Payload: json.RawMessage(`{"amount": [}`)}

	var payload TransferCompleted
	err := fact.Decode(&payload)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode TransferCompleted payload")
}
