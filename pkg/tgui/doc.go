// Package tgui contains small Telegram UI helpers shared by plugins:
// inline keyboard builders, HTML escaping for ParseMode="HTML", and
// callback_data formatting.
package tgui
