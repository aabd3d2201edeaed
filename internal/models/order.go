package models

// OrderRecord - данные строки таблицы orders, которые приходят из вебхука
// базы данных при INSERT. Потребляются ровно один раз диспетчером.
type OrderRecord struct {
	UserID string `json:"user_id"`
	Price  Price  `json:"price"`
}

// OrderEvent - одно событие "создана запись". EventID опционален: вебхук
// базы его не присылает, но события из очереди могут нести его для дедупликации.
type OrderEvent struct {
	EventID string      `json:"event_id,omitempty"`
	Record  OrderRecord `json:"record"`
}
