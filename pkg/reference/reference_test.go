// Package reference содержит unit тесты генератора ссылок.
package reference

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =====================================
// Тесты Generate
// =====================================

func TestGenerate(t *testing.T) {
	tests := []struct {
		name        string
		kind        Kind
		wantPrefix  string
		expectedErr error
	}{
		{"транзакция", KindTransaction, "transaction_", nil},
		{"заказ", KindOrder, "order_", nil},
		{"неизвестный тип", Kind("invoice"), "", ErrUnsupportedKind},
		{"пустой тип", Kind(""), "", ErrUnsupportedKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := Generate(tt.kind)

			if tt.expectedErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.expectedErr)
				assert.Empty(t, ref)
				return
			}

			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(ref, tt.wantPrefix), "ссылка %q без префикса %q", ref, tt.wantPrefix)
			assert.True(t, IsCanonical(ref), "сгенерированная ссылка должна быть канонической: %q", ref)
		})
	}
}

func TestGenerate_Uniqueness(t *testing.T) {
	// Суффикс криптослучайный — повторов быть не должно даже в одну миллисекунду.
	seen := make(map[string]struct{}, 200)
	for i := 0; i < 200; i++ {
		ref, err := Generate(KindTransaction)
		require.NoError(t, err)

		_, dup := seen[ref]
		require.False(t, dup, "повторная ссылка: %s", ref)
		seen[ref] = struct{}{}
	}
}

func TestGenerate_TimestampIsCurrent(t *testing.T) {
	before := time.Now().Add(-time.Second)

	ref, err := Generate(KindTransaction)
	require.NoError(t, err)

	parsed, err := Parse(ref)
	require.NoError(t, err)

	after := time.Now().Add(time.Second)
	assert.True(t, parsed.CreatedAt.After(before) && parsed.CreatedAt.Before(after),
		"временная метка %v вне окна генерации", parsed.CreatedAt)
}

// =====================================
// Тесты Normalize
// =====================================

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		ref      string
		expected string
	}{
		{
			name:     "каноническая ссылка не меняется",
			ref:      "transaction_1755800000000_9f3c2d41ab07e516",
			expected: "transaction_1755800000000_9f3c2d41ab07e516",
		},
		{
			name:     "легаси транзакция",
			ref:      "TRX-1700000000-00FFAA12",
			expected: "transaction_1700000000000_00ffaa12",
		},
		{
			name:     "легаси заказ",
			ref:      "ORD-1700000001-B7C2",
			expected: "order_1700000001000_b7c2",
		},
		{
			name:     "нераспознанная форма проходит без изменений",
			ref:      "pi_3OqXYZ123",
			expected: "pi_3OqXYZ123",
		},
		{
			name:     "пробелы по краям обрезаются",
			ref:      "  transaction_1755800000000_9f3c2d41ab07e516 ",
			expected: "transaction_1755800000000_9f3c2d41ab07e516",
		},
		{
			name:     "пустая строка",
			ref:      "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.ref))
		})
	}
}

func TestNormalize_GeneratedIsIdentity(t *testing.T) {
	for _, kind := range []Kind{KindTransaction, KindOrder} {
		ref, err := Generate(kind)
		require.NoError(t, err)
		assert.Equal(t, ref, Normalize(ref))
	}
}

func TestNormalize_LegacyRoundTrip(t *testing.T) {
	// Нормализованная легаси-ссылка остаётся валидной канонической ссылкой,
	// из которой восстанавливаются те же kind/время/суффикс.
	normalized := Normalize("TRX-1700000000-DEADBEEF")

	parsed, err := Parse(normalized)
	require.NoError(t, err)

	assert.Equal(t, KindTransaction, parsed.Kind)
	assert.Equal(t, int64(1700000000), parsed.CreatedAt.Unix())
	assert.Equal(t, "deadbeef", parsed.Suffix)
	assert.Equal(t, normalized, parsed.String())
}

// =====================================
// Тесты Parse
// =====================================

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		ref         string
		expectedErr error
		check       func(t *testing.T, r *Ref)
	}{
		{
			name: "валидная ссылка",
			ref:  "order_1755800000000_9f3c2d41ab07e516",
			check: func(t *testing.T, r *Ref) {
				assert.Equal(t, KindOrder, r.Kind)
				assert.Equal(t, int64(1755800000000), r.CreatedAt.UnixMilli())
				assert.Equal(t, "9f3c2d41ab07e516", r.Suffix)
			},
		},
		{
			name:        "легаси без нормализации",
			ref:         "TRX-1700000000-DEADBEEF",
			expectedErr: ErrMalformedReference,
		},
		{
			name:        "произвольная строка",
			ref:         "hello world",
			expectedErr: ErrMalformedReference,
		},
		{
			name:        "неизвестный kind",
			ref:         "invoice_1755800000000_9f3c2d41ab07e516",
			expectedErr: ErrMalformedReference,
		},
		{
			name:        "пустая строка",
			ref:         "",
			expectedErr: ErrMalformedReference,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := Parse(tt.ref)

			if tt.expectedErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.expectedErr)
				assert.Nil(t, parsed)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, parsed)
			tt.check(t, parsed)
		})
	}
}

// =====================================
// Тесты классификации форматов
// =====================================

func TestIsCanonicalIsLegacy(t *testing.T) {
	tests := []struct {
		ref       string
		canonical bool
		legacy    bool
	}{
		{"transaction_1755800000000_9f3c2d41ab07e516", true, false},
		{"order_1755800000000_ab12", true, false},
		{"TRX-1700000000-DEADBEEF", false, true},
		{"ORD-1700000000-00AA", false, true},
		{"trx-1700000000-deadbeef", false, false}, // легаси всегда в верхнем регистре
		{"transaction_abc_def", false, false},
		{"", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			assert.Equal(t, tt.canonical, IsCanonical(tt.ref), "IsCanonical(%q)", tt.ref)
			assert.Equal(t, tt.legacy, IsLegacy(tt.ref), "IsLegacy(%q)", tt.ref)
		})
	}
}
