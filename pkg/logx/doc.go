// Package logx is tvbot's structured logger, a thin layer over zerolog.
//
// Console output is human readable with a short caller, the optional log
// file is JSON, and warnings can be mirrored to an operator's Telegram
// chat under a rate limit. A Service can be reconfigured while Loggers
// derived from it stay valid.
package logx
