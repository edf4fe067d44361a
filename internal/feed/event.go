package feed

import "time"

// Таблицы, изменения которых транслируются подписчикам
const (
	TableIncidents  = "incidents"
	TableUnits      = "units"
	TableDispatches = "dispatches"
)

// Действие над строкой
const (
	ActionInsert = "insert"
	ActionUpdate = "update"
)

const (
	channelPrefix   = "feed:"
	channelPattern  = "feed:*"
	webhookQueueKey = "feed_webhook_events"
)

// Event - событие изменения одной строки. Подписчики применяют события к
// локальному состоянию по принципу last-write-wins в пределах строки;
// порядок между разными строками не гарантируется
type Event struct {
	Table     string    `json:"table"`
	Action    string    `json:"action"`
	RecordID  string    `json:"record_id"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// ChannelFor возвращает имя Redis-канала для таблицы
func ChannelFor(table string) string {
	return channelPrefix + table
}
