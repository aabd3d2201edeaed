package models

import "errors"

var (
	// ErrInvalidRecord - входная запись не прошла валидацию (пустой user_id,
	// отсутствующая или нечисловая цена). До провайдера такой запрос не доходит.
	ErrInvalidRecord = errors.New("invalid order record")

	// ErrDuplicateEvent - событие с таким event_id уже было обработано.
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrNotFound - запись не найдена.
	ErrNotFound = errors.New("not found")
)
