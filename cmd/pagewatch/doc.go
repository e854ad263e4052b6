// Command pagewatch polls one JavaScript-rendered page and sends a Telegram
// message whenever its visible text changes.
//
// Each check loads the page in a fresh headless Chrome (chromedp), waits for
// the DOM and the network to settle, strips scripts and styles, collapses
// whitespace and compares the SHA-256 of the remaining text with the value
// stored in the state file. Render failures are retried once after two
// seconds; failed checks back off 5s per consecutive error up to one minute.
// Successful checks sleep check_every_seconds plus up to jitter_max_seconds.
//
// Configuration comes from an optional file (-config), PAGEWATCH_* variables
// and the plain names WATCH_URL, CHECK_EVERY_SECONDS, JITTER_MAX_SECONDS,
// STATE_FILE, PW_NAV_TIMEOUT_MS, PW_WAIT_AFTER_LOAD_MS, PW_PROXY,
// TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_IDS. Setting METRICS_ADDR starts an
// ops server with /healthz, /readyz, /metrics and /v1/status.
//
// The process runs until SIGINT or SIGTERM and then exits 0.
package main
