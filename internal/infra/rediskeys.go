package infra

// Реестр каналов Redis. Все имена собраны в одном месте, чтобы продюсер и
// подписчики не разъезжались по опечаткам.
const (
	// Каждый завершенный цикл публикует сюда HealthSnapshot (JSON)
	RedisChanSnapshots = "replmon:snapshots"

	// Сигнал о СВЕЖЕсозданном критическом алерте (JSON domain.Alert).
	// Публикуется один раз в момент реконсиляции нового алерта,
	// а не на каждом цикле, пока условие держится.
	RedisChanCriticalAlerts = "replmon:signals:critical"
)
