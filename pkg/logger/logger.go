// Package logger предоставляет структурированное логирование на базе zerolog.
// В production логи пишутся в JSON, в development доступен pretty-print.
// Все сообщения логов пишутся на русском языке.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// log — глобальный экземпляр логгера.
// Настраивается через Init() либо автоматически из окружения при импорте пакета.
var log zerolog.Logger

// Config содержит настройки инициализации логгера.
type Config struct {
	// Level — минимальный уровень логирования.
	// Допустимые значения: "trace", "debug", "info", "warn", "error".
	// По умолчанию: "info".
	Level string

	// Pretty включает человекочитаемый цветной вывод для разработки.
	// При Pretty=false вывод идёт в JSON (production формат).
	Pretty bool

	// Output — writer для вывода логов. По умолчанию os.Stdout.
	Output io.Writer
}

// init настраивает логгер из переменных окружения при импорте пакета,
// чтобы ранние логи (до config.Load) не терялись и имели правильный формат.
func init() {
	pretty := strings.ToLower(os.Getenv("LOG_PRETTY")) == "true"

	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	Init(Config{
		Level:  level,
		Pretty: pretty,
	})
}

// Init инициализирует глобальный логгер с заданной конфигурацией.
// Вызывается в main после загрузки конфигурации.
func Init(cfg Config) {
	var output io.Writer = os.Stdout

	if cfg.Output != nil {
		output = cfg.Output
	}

	// ConsoleWriter форматирует записи в читаемый цветной вид.
	// Только для development — парсинг JSON обходится дороже прямой записи.
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
			NoColor:    false,
		}
	}

	level := parseLevel(cfg.Level)

	// Каждая запись получает timestamp и caller (файл:строка).
	log = zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Caller().
		Logger()

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
}

// parseLevel преобразует строковый уровень в zerolog.Level.
// Неизвестный уровень трактуется как info.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Debug создает событие лога уровня debug.
// Пример: logger.Debug().Str("reference", ref).Msg("Начало сверки платежа")
func Debug() *zerolog.Event {
	return log.Debug()
}

// Info создает событие лога уровня info.
// Пример: logger.Info().Str("order_id", id).Msg("Заказ переведён в paid")
func Info() *zerolog.Event {
	return log.Info()
}

// Warn создает событие лога уровня warn.
// Используется для аномалий, не прерывающих обработку
// (регрессивный статус, расхождение суммы, повторная доставка вебхука).
func Warn() *zerolog.Event {
	return log.Warn()
}

// Error создает событие лога уровня error.
// Используется для инфраструктурных ошибок, после которых обработка прервана.
func Error() *zerolog.Event {
	return log.Error()
}

// Fatal создает событие лога уровня fatal и завершает процесс.
// ВНИМАНИЕ: после вызова Msg() приложение завершится с кодом 1.
// Используется только в main при невозможности стартовать.
func Fatal() *zerolog.Event {
	return log.Fatal()
}

// With создает контекст нового логгера с дополнительными полями.
// Пример:
//
//	svcLog := logger.With().Str("service", "recon-service").Logger()
//	svcLog.Info().Msg("Сервис запущен")
func With() zerolog.Context {
	return log.With()
}

// Logger возвращает глобальный экземпляр zerolog.Logger.
func Logger() zerolog.Logger {
	return log
}

// SetGlobalLogger подменяет глобальный логгер.
// Используется в тестах для перехвата вывода.
func SetGlobalLogger(l zerolog.Logger) {
	log = l
}
