/* Copyright (c) 2025 Ivan Bondarenko
 * SPDX-License-Identifier: BSD-3-Clause */
package logger

import (
    "io"
    "os"
    "time"

    "github.com/rs/zerolog"
    "github.com/rs/zerolog/log"

    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/config"
)

// New builds the process-wide logger: human-readable console output in dev,
// JSON lines everywhere else, levelled by LOG_LEVEL.
func New(cfg config.Config) zerolog.Logger {
    level, err := zerolog.ParseLevel(cfg.LogLevel)
    if err != nil || level == zerolog.NoLevel { level = zerolog.InfoLevel }

    zerolog.TimeFieldFormat = time.RFC3339
    var out io.Writer = os.Stdout
    if cfg.AppEnv == "dev" {
        out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
    }
    logger := zerolog.New(out).Level(level).With().Timestamp().Str("service", "syncron").Logger()
    log.Logger = logger
    return logger
}
