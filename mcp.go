package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"evolute/evolver"
	"evolute/export"
	"evolute/params"
)

type tools struct {
	e   *Evolver
	log *zap.Logger
}

func newMCPServer(e *Evolver, log *zap.Logger) *server.MCPServer {
	t := &tools{e: e, log: log}

	s := server.NewMCPServer(
		"Evolver MCP",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	s.AddTool(mcp.NewTool("evolver_list-parameters",
		mcp.WithDescription("Lists the program, sequencer and global parameter ids of the Evolver in wire order."),
	), t.listParameters)

	s.AddTool(mcp.NewTool("evolver_status",
		mcp.WithDescription("Returns the current bank, program, program name and sync state."),
	), t.status)

	s.AddTool(mcp.NewTool("evolver_get-edit-buffer",
		mcp.WithDescription("Returns the edit buffer (the sound currently playing) as JSON keyed by parameter id."),
	), t.getEditBuffer)

	s.AddTool(mcp.NewTool("evolver_get-program",
		mcp.WithDescription("Returns a stored program. Requests it from the Evolver if it has not been received yet."),
		mcp.WithNumber("bank", mcp.Required(), mcp.Description("The bank of the program (1-4).")),
		mcp.WithNumber("program", mcp.Required(), mcp.Description("The program number (1-128).")),
	), t.getProgram)

	s.AddTool(mcp.NewTool("evolver_set-parameter",
		mcp.WithDescription("Changes one edit buffer, sequencer or global parameter on the Evolver."),
		mcp.WithString("id", mcp.Required(), mcp.Description("The parameter id, see evolver_list-parameters.")),
		mcp.WithNumber("value", mcp.Required(), mcp.Description("The new value (0-255).")),
	), t.setParameter)

	s.AddTool(mcp.NewTool("evolver_select-program",
		mcp.WithDescription("Switches the Evolver to another program and waits for its edit buffer."),
		mcp.WithNumber("bank", mcp.Required(), mcp.Description("The bank of the program (1-4).")),
		mcp.WithNumber("program", mcp.Required(), mcp.Description("The program number (1-128).")),
	), t.selectProgram)

	s.AddTool(mcp.NewTool("evolver_request-program",
		mcp.WithDescription("Asks the Evolver to send a stored program and its name without waiting for the reply."),
		mcp.WithNumber("bank", mcp.Required(), mcp.Description("The bank of the program (1-4).")),
		mcp.WithNumber("program", mcp.Required(), mcp.Description("The program number (1-128).")),
	), t.requestProgram)

	s.AddTool(mcp.NewTool("evolver_list-names",
		mcp.WithDescription("Requests every program name of a bank and returns them in program order. Names that did not arrive are empty."),
		mcp.WithNumber("bank", mcp.Required(), mcp.Description("The bank (1-4).")),
	), t.listNames)

	s.AddTool(mcp.NewTool("evolver_send-program",
		mcp.WithDescription("Sends a program to the Evolver's edit buffer."),
		mcp.WithString("program-json", mcp.Required(), mcp.Description("The program in the JSON format returned by evolver_get-edit-buffer.")),
	), t.sendProgram)

	s.AddTool(mcp.NewTool("evolver_store-program",
		mcp.WithDescription("Writes a program and its name into a stored slot on the Evolver."),
		mcp.WithNumber("bank", mcp.Required(), mcp.Description("The bank of the program (1-4).")),
		mcp.WithNumber("program", mcp.Required(), mcp.Description("The program number (1-128).")),
		mcp.WithString("name", mcp.Required(), mcp.Description("The program name, at most 16 ASCII characters.")),
		mcp.WithString("program-json", mcp.Required(), mcp.Description("The program in the JSON format returned by evolver_get-edit-buffer.")),
	), t.storeProgram)

	return s
}

func runMCP(e *Evolver, log *zap.Logger) error {
	s := newMCPServer(e, log)
	log.Info("starting Evolver MCP server")
	return server.ServeStdio(s)
}

func requireSelection(request mcp.CallToolRequest) (evolver.Selection, error) {
	bank, err := request.RequireInt("bank")
	if err != nil {
		return evolver.Selection{}, err
	}
	program, err := request.RequireInt("program")
	if err != nil {
		return evolver.Selection{}, err
	}
	return makeSelection(bank, program)
}

func programResult(p evolver.Program, name string) (*mcp.CallToolResult, error) {
	var buf bytes.Buffer
	if err := export.SaveJSON(&buf, p, name); err != nil {
		return nil, fmt.Errorf("failed to marshal program to JSON: %v", err)
	}
	return mcp.NewToolResultText(buf.String()), nil
}

func (t *tools) listParameters(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	t.log.Debug("handling list parameters request")
	seq := make([]params.ID, params.SequenceSteps)
	for i := range seq {
		seq[i], _ = params.SequenceID(i)
	}
	out := map[string][]params.ID{
		"program":   params.ProgramIDs(),
		"sequencer": seq,
		"main":      params.MainIDs(),
	}
	asJson, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(asJson)), nil
}

type statusReport struct {
	Bank    int    `json:"bank,omitempty"`
	Program int    `json:"program,omitempty"`
	Name    string `json:"name,omitempty"`
	State   string `json:"state"`
	Pending int    `json:"pending"`
}

func (t *tools) status(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	eng := t.e.engine
	r := statusReport{
		State:   eng.State().String(),
		Pending: eng.Pending(),
		Name:    t.e.CurrentName(),
	}
	if sel, ok := eng.Selection(); ok {
		r.Bank, r.Program = int(sel.Bank)+1, int(sel.Program)+1
	}
	asJson, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(asJson)), nil
}

func (t *tools) getEditBuffer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	t.log.Info("handling get edit buffer request")
	if err := t.e.WaitSynced(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return programResult(t.e.engine.Memory().Edit(), t.e.CurrentName())
}

func (t *tools) getProgram(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sel, err := requireSelection(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	t.log.Info("handling get program request", zap.Stringer("slot", sel))

	mem := t.e.engine.Memory()
	if c, _ := mem.Cell(sel); c.Program == nil {
		if err := t.e.engine.RequestProgram(sel); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := t.e.engine.RequestName(sel); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := t.e.waitFor("program dump", replyTimeout, func() bool {
			c, _ := mem.Cell(sel)
			return c.Program != nil
		}); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	c, err := mem.Cell(sel)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name := ""
	if c.Name != evolver.UnknownName {
		name = strings.TrimRight(c.Name, " ")
	}
	return programResult(*c.Program, name)
}

func (t *tools) setParameter(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	value, err := request.RequireInt("value")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if value < 0 || value > 255 {
		return mcp.NewToolResultError(fmt.Sprintf("value must be in range 0-255, got %d", value)), nil
	}
	t.log.Info("handling set parameter request", zap.String("id", id), zap.Int("value", value))

	pid := params.ID(id)
	if _, ok := params.MainIndex(pid); ok {
		err = t.e.engine.SetMainParameter(pid, byte(value))
	} else {
		err = t.e.engine.SetProgramParameter(pid, byte(value))
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Set %s to %d.", id, value)), nil
}

func (t *tools) selectProgram(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sel, err := requireSelection(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	t.log.Info("handling select program request", zap.Stringer("slot", sel))
	if err := t.e.engine.SelectProgram(sel); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := t.e.WaitSynced(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Selected program %s.", sel)), nil
}

func (t *tools) requestProgram(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sel, err := requireSelection(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := t.e.engine.RequestProgram(sel); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := t.e.engine.RequestName(sel); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Requested program %s.", sel)), nil
}

func (t *tools) listNames(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bank, err := request.RequireInt("bank")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sel, err := makeSelection(bank, 1)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	t.log.Info("handling list names request", zap.Int("bank", bank))
	names, err := t.e.BankNames(sel.Bank)
	if names == nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err != nil {
		t.log.Warn("some names did not arrive", zap.Error(err))
	}
	asJson, err := json.MarshalIndent(names, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(asJson)), nil
}

func parseProgramArg(request mcp.CallToolRequest) (evolver.Program, error) {
	programJson, err := request.RequireString("program-json")
	if err != nil {
		return evolver.Program{}, err
	}
	p, _, err := export.LoadJSON(strings.NewReader(programJson))
	return p, err
}

func (t *tools) sendProgram(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := parseProgramArg(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	t.log.Info("handling send program request")
	t.e.engine.Memory().SetEdit(p)
	if err := t.e.engine.SendEditBuffer(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Program sent to the edit buffer."), nil
}

func (t *tools) storeProgram(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sel, err := requireSelection(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, err := parseProgramArg(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	t.log.Info("handling store program request", zap.Stringer("slot", sel), zap.String("name", name))
	if err := t.e.engine.StoreProgram(sel, name, p); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Stored %q as program %s.", name, sel)), nil
}
