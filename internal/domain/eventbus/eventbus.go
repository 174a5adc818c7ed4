package eventbus

// Topics carried by the connector's event bus. QR events must stay ordered, so
// subscribers for TopicQREvent are registered synchronously; login completion
// is handed to the async workers because the QR caller never waits on it.
const (
	TopicQREvent        = "zalo.login.qr"
	TopicLoginCompleted = "zalo.login.completed"
)
