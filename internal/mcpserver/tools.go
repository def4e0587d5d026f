package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the escrow MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolCreateEscrow = mcp.NewTool("create_escrow",
	mcp.WithDescription(
		"Lock an amount of the insurer's IOU token in a conditional escrow on the XRP Ledger "+
			"for the logged-in client. The escrow can later be paid out with finish_escrow or "+
			"submit_claim_decision, or returned to the insurer after it expires with cancel_escrow."),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Positive decimal amount of the token to lock (e.g. '1000' or '12.5')")),
)

var ToolFinishEscrow = mcp.NewTool("finish_escrow",
	mcp.WithDescription(
		"Pay out an escrow to the client by revealing its condition fulfillment on the ledger. "+
			"Safe to repeat: an already paid escrow reports 'Already paid.'"),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow ID returned by create_escrow")),
)

var ToolCancelEscrow = mcp.NewTool("cancel_escrow",
	mcp.WithDescription(
		"Return an expired, unpaid escrow to the insurer's wallet. Runs as the insurer (owner). "+
			"Fails with a precondition error if the escrow has not expired yet."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow ID to cancel")),
)

var ToolGetEscrow = mcp.NewTool("get_escrow",
	mcp.WithDescription(
		"Show one escrow's state, amount, parties and transaction hashes. "+
			"Without escrow_id, lists the client's escrows newest first."),
	mcp.WithString("escrow_id",
		mcp.Description("The escrow ID to show. Omit to list escrows.")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of escrows to list (default 20)")),
)

var ToolSubmitClaimDecision = mcp.NewTool("submit_claim_decision",
	mcp.WithDescription(
		"Submit the claim review verdict for the client. 'Accepted' pays out the client's most "+
			"recent open escrow; 'Declined' and 'Escalate to human' are recorded without a ledger action."),
	mcp.WithString("decision",
		mcp.Required(),
		mcp.Description("The verdict token"),
		mcp.Enum("Accepted", "Declined", "Escalate to human")),
)

var ToolCheckBalance = mcp.NewTool("check_balance",
	mcp.WithDescription(
		"Check XRP and IOU token balances on the ledger for the client or the insurer."),
	mcp.WithString("account",
		mcp.Description("Whose balance to read: 'me' (the client, default) or 'owner' (the insurer)"),
		mcp.Enum("me", "owner")),
)
