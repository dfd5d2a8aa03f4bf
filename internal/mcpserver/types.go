package mcpserver

// AskUserInput is the ask_user tool input.
type AskUserInput struct {
	// Question is the text posted to the Slack channel.
	Question string `json:"question"`
}

// AskUserOutput is the ask_user tool output. Response carries every outcome
// as text: the human's reply on success, or an "Error: ..." string on
// timeout, misconfiguration or post failure.
type AskUserOutput struct {
	Response string `json:"response"`
}
