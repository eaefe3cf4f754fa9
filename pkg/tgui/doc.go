// Package tgui holds small helpers for rendering Telegram replies in
// ParseMode="HTML": escaping, inline tags, paging and key/value cards.
package tgui
