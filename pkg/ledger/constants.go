package ledger

const (
	operationProvisionCard   = "provision_card"
	operationSetBalance      = "set_balance"
	operationApplyTopUp      = "apply_top_up"
	operationSetStatus       = "set_status"
	operationRecordPumpUsage = "record_pump_usage"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	// DefaultPumpHistoryLimit caps per-card pump history reads.
	DefaultPumpHistoryLimit = 10
	// DefaultDailyStatsLimit is the number of most recent days reported.
	DefaultDailyStatsLimit = 7
	// DefaultTopCardsLimit is the number of ranked cards reported.
	DefaultTopCardsLimit = 5
)
