package book

const (
	operationPost           = "post"
	operationCreateAccount  = "create_account"
	operationCloseAccount   = "close_account"
	operationBalance        = "balance"
	operationPublishEvent   = "publish_event"
	operationStatusOK       = "ok"
	operationStatusError    = "error"
	operationStatusReplayed = "replayed"

	EventTransactionPosted = "transaction.posted"
	EventTransactionFailed = "transaction.failed"
)
