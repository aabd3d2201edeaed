package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Price - денежная сумма из записи заказа. Вебхук может прислать как число
// (100, 99.95), так и числовую строку ("100"). Нечисловые значения - ошибка
// десериализации. Исходное текстовое представление сохраняется, чтобы текст
// уведомления не менял формат суммы ("$100", а не "$100.000000").
type Price struct {
	value   float64
	raw     string
	present bool
}

// NewPrice создает Price из float64 (в основном для тестов).
func NewPrice(v float64) Price {
	return Price{
		value:   v,
		raw:     strconv.FormatFloat(v, 'f', -1, 64),
		present: true,
	}
}

// Present сообщает, было ли поле вообще задано в JSON.
// Отсутствующая цена считается некорректным входом (политика обработки ошибок едина).
func (p Price) Present() bool {
	return p.present
}

// Float64 возвращает числовое значение суммы.
func (p Price) Float64() float64 {
	return p.value
}

// String возвращает сумму в том виде, в котором она пришла.
func (p Price) String() string {
	if p.raw != "" {
		return p.raw
	}
	return strconv.FormatFloat(p.value, 'f', -1, 64)
}

// UnmarshalJSON принимает число или числовую строку.
func (p *Price) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		// null эквивалентен отсутствию поля
		return nil
	}

	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("price: невалидная строка: %w", err)
		}
		s = strings.TrimSpace(s)
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("price: строка %q не является числом: %w", s, err)
		}
		p.value = v
		p.raw = s
		p.present = true
		return nil
	}

	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("price: значение %s не является числом: %w", trimmed, err)
	}
	p.value = v
	p.raw = strconv.FormatFloat(v, 'f', -1, 64)
	p.present = true
	return nil
}

// MarshalJSON сериализует сумму обратно в число.
func (p Price) MarshalJSON() ([]byte, error) {
	if !p.present {
		return []byte("null"), nil
	}
	return json.Marshal(p.value)
}
