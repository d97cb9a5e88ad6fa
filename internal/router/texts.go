package router

// User-facing copy.
const (
	TextMenu = `Hi! I can help you with:
1. Registering an account: send REGISTER (or REGISTER BUSINESS)
2. Collecting money against an invoice: send COLLECT MONEY
3. Sending money as crypto: send SEND MONEY
4. Exchange rates: send RATES PHP (or any currency code)

Send HELP at any time, or CANCEL to stop what you're doing.`

	TextHelp = `Commands:
• REGISTER: create a personal account
• REGISTER BUSINESS: create a business account
• COLLECT MONEY: create a payment link for an invoice
• SEND MONEY: get a fiat-to-crypto quote
• RATES <code>: exchange rates for a currency
• STATUS: what you're in the middle of
• RESET: clear everything and start over
• CANCEL: stop the current step`

	TextCancelled = "Okay, I've cancelled that."
	TextReset     = "Your session has been reset."
	TextTryAgain  = "Sorry, something went wrong on our side. Please try again in a moment."

	TextAskUserType = `Are you registering as:
1. An individual
2. A business

Reply 1 or 2.`

	TextAskEmail = `Please reply with the email address you registered with.

New here? Reply REGISTER to create an account.`

	TextBadEmail = "That doesn't look like an email address."
)
