package payroll

import (
	"fmt"
	"strings"
)

// Detect classifies one employee's computed pay record. It is pure: no I/O,
// no mutation, identical input yields an identical anomaly set. Anomalies are
// recomputed wherever they are needed instead of being stored, so remediation
// (manager override, payment-method change, deferral) clears them on the next
// evaluation without separate dismiss bookkeeping.
func Detect(record RunRecord) []Anomaly {
	if record.Deferred {
		return nil
	}

	var out []Anomaly

	if record.NetPay < 0 {
		out = append(out, Anomaly{
			Type:     AnomalyNegativeNetPay,
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("net pay is negative (%.2f)", record.NetPay),
			Value:    record.NetPay,
		})
	}

	if !paymentOverridden(record) {
		if strings.TrimSpace(record.BankAccountNumber) == "" || strings.EqualFold(record.BankStatus, BankStatusMissing) {
			out = append(out, Anomaly{
				Type:     AnomalyMissingBankInfo,
				Severity: SeverityCritical,
				Message:  "bank account information is missing for electronic transfer",
			})
		}
	}

	if !record.ManagerOverride {
		if record.HistoricalSalary > 0 {
			pct := (record.GrossSalary - record.HistoricalSalary) / record.HistoricalSalary * 100
			if pct > SalarySpikeThresholdPct {
				out = append(out, Anomaly{
					Type:      AnomalySalarySpike,
					Severity:  SeverityWarning,
					Message:   fmt.Sprintf("gross salary increased %.1f%% over historical", pct),
					Value:     pct,
					Threshold: SalarySpikeThresholdPct,
				})
			}
		}
		if record.GrossSalary > 0 && len(record.TaxLines) == 0 {
			out = append(out, Anomaly{
				Type:     AnomalyMissingTaxInfo,
				Severity: SeverityWarning,
				Message:  "no tax breakdown for a positive gross salary",
			})
		}
	}

	if anomaly, ok := backendException(record, out); ok {
		out = append(out, anomaly)
	}

	return out
}

// backendException surfaces a calculation-backend note as a critical anomaly.
// A structured resolution marker means the note was already remediated; the
// uppercase OVERRIDE/DEFERRED substring check remains as a fallback for
// records written by older calculators. Notes that restate an anomaly already
// raised by the other rules are dropped.
func backendException(record RunRecord, existing []Anomaly) (Anomaly, bool) {
	note := strings.TrimSpace(record.Exceptions)
	if note == "" || record.ResolutionMarker != "" {
		return Anomaly{}, false
	}
	upper := strings.ToUpper(note)
	if strings.Contains(upper, "OVERRIDE") || strings.Contains(upper, "DEFERRED") {
		return Anomaly{}, false
	}
	for _, a := range existing {
		if strings.Contains(upper, strings.ToUpper(a.Message)) || strings.Contains(strings.ToUpper(a.Message), upper) {
			return Anomaly{}, false
		}
	}
	return Anomaly{
		Type:     AnomalyBackendException,
		Severity: SeverityCritical,
		Message:  note,
	}, true
}

// paymentOverridden reports whether the pay channel no longer requires bank
// details: either a manager override or a non-electronic method.
func paymentOverridden(record RunRecord) bool {
	return record.ManagerOverride ||
		record.PaymentMethod == PaymentCheque ||
		record.PaymentMethod == PaymentCash
}
