package models

const (
	// DefaultFlushFanOut ограничивает число сущностей, отправляемых
	// на сервер параллельно в фазе flush.
	DefaultFlushFanOut = 4

	// DefaultFlushBatchSize размер выборки ожидающих действий за цикл
	DefaultFlushBatchSize = 200

	// DefaultMaxRetries количество попыток до перевода действия в failed
	DefaultMaxRetries = 5

	// DefaultSyncIntervalSeconds период фоновой синхронизации
	DefaultSyncIntervalSeconds = 300

	// DefaultProbeIntervalSeconds период опроса доступности сети
	DefaultProbeIntervalSeconds = 5

	// DefaultStableSeconds время стабильности состояния сети до
	// публикации перехода (подавление дребезга)
	DefaultStableSeconds = 10

	// DefaultRequestTimeoutSeconds таймаут одного сетевого вызова
	DefaultRequestTimeoutSeconds = 15
)

const (
	// StateKeyLastSync ключ времени последней успешной синхронизации
	StateKeyLastSync = "last_sync_at"

	// StateKeyCursorPrefix префикс ключей курсора инкрементальной
	// выгрузки, по одному на тип сущности
	StateKeyCursorPrefix = "cursor:"
)
