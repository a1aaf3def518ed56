// Package reference генерирует и нормализует платёжные ссылки.
// Ссылка — единый идентификатор попытки оплаты (или заказа) во всех
// внешних обменах: шлюз получает её при создании интента и возвращает
// в вебхуках и ответах на опрос статуса.
//
// Канонический формат: <kind>_<epoch-millis>_<random-suffix>, например
// transaction_1755800000000_9f3c2d41ab07e516. Временная часть даёт
// сортируемость и диагностику, криптослучайный суффикс — стойкость к
// коллизиям. Единственный разделитель — подчёркивание, значит ссылку
// можно безопасно класть в URL, ключи Redis и имена файлов.
package reference

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind — тип сущности, для которой генерируется ссылка.
type Kind string

const (
	// KindTransaction — ссылка попытки оплаты.
	KindTransaction Kind = "transaction"

	// KindOrder — ссылка заказа (человекочитаемый номер строится из неё).
	KindOrder Kind = "order"
)

// ErrUnsupportedKind возвращается при неизвестном kind.
// Это ошибка программиста, а не условие для retry.
var ErrUnsupportedKind = errors.New("неподдерживаемый тип ссылки")

// ErrMalformedReference возвращается Parse для ссылки вне канонического формата.
var ErrMalformedReference = errors.New("ссылка не соответствует каноническому формату")

// suffixBytes — длина случайного суффикса в байтах (16 hex символов).
const suffixBytes = 8

// =============================================================================
// Форматы ссылок
// =============================================================================

var (
	// canonicalPattern — текущий формат: kind_millis_suffix.
	// Суффикс шире hex, потому что нормализация наследует суффиксы
	// легаси-ссылок как есть (в нижнем регистре).
	canonicalPattern = regexp.MustCompile(`^(transaction|order)_(\d{10,16})_([a-z0-9]+)$`)

	// legacyPattern — формат старой системы: TRX-<epoch-seconds>-<SUFFIX>
	// или ORD-<epoch-seconds>-<SUFFIX>. Точность до секунды, верхний регистр.
	legacyPattern = regexp.MustCompile(`^(TRX|ORD)-(\d{9,11})-([A-Za-z0-9]+)$`)
)

// legacyKinds отображает легаси-префиксы на канонические kind.
var legacyKinds = map[string]Kind{
	"TRX": KindTransaction,
	"ORD": KindOrder,
}

// Ref — разобранная каноническая ссылка.
type Ref struct {
	Kind      Kind
	CreatedAt time.Time
	Suffix    string
}

// String собирает каноническое строковое представление.
func (r Ref) String() string {
	return fmt.Sprintf("%s_%d_%s", r.Kind, r.CreatedAt.UnixMilli(), r.Suffix)
}

// =============================================================================
// Операции
// =============================================================================

// Generate создаёт новую ссылку заданного типа.
// Коллизии практически исключены: миллисекундная метка + 64 бита
// криптослучайного суффикса.
func Generate(kind Kind) (string, error) {
	switch kind {
	case KindTransaction, KindOrder:
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}

	buf := make([]byte, suffixBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("ошибка генерации случайного суффикса: %w", err)
	}

	return fmt.Sprintf("%s_%d_%s", kind, time.Now().UnixMilli(), hex.EncodeToString(buf)), nil
}

// Normalize приводит ссылку к каноническому формату.
// Каноническая ссылка возвращается как есть (Normalize(Generate(k)) — тождество).
// Легаси-ссылка переводится в канонический вид: секунды → миллисекунды,
// суффикс в нижний регистр; суффикс сохраняется, поэтому историческая
// запись находится и по нормализованной форме.
// Нераспознанная форма возвращается без изменений — её судьбу решает
// резолюция заказа (обычно это путь в orphaned).
func Normalize(ref string) string {
	ref = strings.TrimSpace(ref)

	if canonicalPattern.MatchString(ref) {
		return ref
	}

	m := legacyPattern.FindStringSubmatch(ref)
	if m == nil {
		return ref
	}

	kind := legacyKinds[m[1]]
	seconds, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		// Недостижимо при совпадении с паттерном, но паника здесь не нужна.
		return ref
	}

	return fmt.Sprintf("%s_%d_%s", kind, seconds*1000, strings.ToLower(m[3]))
}

// Parse разбирает каноническую ссылку на составляющие.
// Легаси-ссылки следует сначала пропустить через Normalize.
func Parse(ref string) (*Ref, error) {
	m := canonicalPattern.FindStringSubmatch(strings.TrimSpace(ref))
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrMalformedReference, ref)
	}

	millis, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrMalformedReference, ref)
	}

	return &Ref{
		Kind:      Kind(m[1]),
		CreatedAt: time.UnixMilli(millis),
		Suffix:    m[3],
	}, nil
}

// IsCanonical сообщает, соответствует ли ссылка текущему формату.
func IsCanonical(ref string) bool {
	return canonicalPattern.MatchString(strings.TrimSpace(ref))
}

// IsLegacy сообщает, соответствует ли ссылка формату старой системы.
func IsLegacy(ref string) bool {
	return legacyPattern.MatchString(strings.TrimSpace(ref))
}
