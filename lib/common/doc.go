// Package common provides logging utilities shared by the library packages and the CLI.
//
// All packages log through the dragonboat logger facade (logger.GetLogger). InitLoggers
// replaces the default factory with one that prints "LEVEL | package | message" lines
// and applies a single level to every package logger listed in LoggerNames.
package common
