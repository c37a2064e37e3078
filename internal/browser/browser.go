// Package browser implements the interactive block/op viewer SPEC_FULL.md
// §11 wires to the tcell/tview dependency the teacher's debugger uses for
// its TUI, modeled directly on debugger/tui.go's list-and-detail panes but
// showing basic blocks and p-code ops instead of registers and memory.
package browser

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/decompile/sleighcore/flow"
)

// Browser is the text user interface over one flow-follower run's result.
type Browser struct {
	App   *tview.Application
	Pages *tview.Pages

	MainLayout *tview.Flex
	BlockList  *tview.List
	OpView     *tview.TextView
	InfoView   *tview.TextView
	StatusView *tview.TextView

	blocks   []*flow.BasicBlock
	callSpec map[int]*flow.FuncCallSpecs
	selected int
}

// New builds a browser over the blocks and call-site registry a
// FlowFollower produced (FlowFollower.GenerateBlocks / CallSpecs).
func New(blocks []*flow.BasicBlock, calls map[int]*flow.FuncCallSpecs) *Browser {
	b := &Browser{
		App:      tview.NewApplication(),
		blocks:   blocks,
		callSpec: calls,
	}
	b.initializeViews()
	b.buildLayout()
	b.setupKeyBindings()
	b.populateBlockList()
	return b
}

func (b *Browser) initializeViews() {
	b.BlockList = tview.NewList().ShowSecondaryText(false)
	b.BlockList.SetBorder(true).SetTitle(" Blocks ")

	b.OpView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	b.OpView.SetBorder(true).SetTitle(" Ops ")

	b.InfoView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(true)
	b.InfoView.SetBorder(true).SetTitle(" Call Sites ")

	b.StatusView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	b.StatusView.SetBorder(true).SetTitle(" Status ")
	b.StatusView.SetText("[green]arrows/j,k[white] select block   [green]q[white] quit")
}

func (b *Browser) buildLayout() {
	rightPanel := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(b.OpView, 0, 3, false).
		AddItem(b.InfoView, 0, 1, false)

	content := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(b.BlockList, 0, 1, true).
		AddItem(rightPanel, 0, 3, false)

	b.MainLayout = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(content, 0, 5, true).
		AddItem(b.StatusView, 3, 0, false)

	b.Pages = tview.NewPages().AddPage("main", b.MainLayout, true, true)
}

func (b *Browser) setupKeyBindings() {
	b.App.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlC:
			b.App.Stop()
			return nil
		}
		switch event.Rune() {
		case 'q':
			b.App.Stop()
			return nil
		}
		return event
	})
}

func (b *Browser) populateBlockList() {
	for _, blk := range b.blocks {
		label := blockLabel(blk)
		idx := blk.ID
		b.BlockList.AddItem(label, "", 0, func() {
			b.selectBlock(idx)
		})
	}
	b.BlockList.SetChangedFunc(func(i int, mainText, secondaryText string, shortcut rune) {
		if i >= 0 && i < len(b.blocks) {
			b.selectBlock(b.blocks[i].ID)
		}
	})
	if len(b.blocks) > 0 {
		b.selectBlock(b.blocks[0].ID)
	}
}

func blockLabel(blk *flow.BasicBlock) string {
	if len(blk.Ops) == 0 {
		return fmt.Sprintf("block %d (empty)", blk.ID)
	}
	return fmt.Sprintf("block %d @ %s", blk.ID, blk.Ops[0].Seq.Addr)
}

func (b *Browser) selectBlock(id int) {
	var blk *flow.BasicBlock
	for _, candidate := range b.blocks {
		if candidate.ID == id {
			blk = candidate
			break
		}
	}
	if blk == nil {
		return
	}
	b.selected = id
	b.updateOpView(blk)
	b.updateInfoView(blk)
}

func (b *Browser) updateOpView(blk *flow.BasicBlock) {
	var lines []string
	lines = append(lines, fmt.Sprintf("[yellow]block %d[white]  in=%v out=%v", blk.ID, blk.In, blk.Out))
	for _, op := range blk.Ops {
		color := "white"
		marker := "  "
		if op.BlockStart {
			marker = "->"
		}
		if op.Halt != 0 {
			color = "red"
		} else if op.Opcode.IsBranch() {
			color = "aqua"
		}
		lines = append(lines, fmt.Sprintf("[%s]%s %s[white]", color, marker, op.String()))
	}
	b.OpView.Clear()
	b.OpView.SetText(strings.Join(lines, "\n"))
}

func (b *Browser) updateInfoView(blk *flow.BasicBlock) {
	var lines []string
	for _, op := range blk.Ops {
		if op.CallSpecID == 0 {
			continue
		}
		spec, ok := b.callSpec[op.CallSpecID]
		if !ok {
			continue
		}
		lines = append(lines, fmt.Sprintf("#%d  %s -> %s  proto=%q inline=%v noreturn=%v",
			spec.ID, spec.CallAddr, spec.EntryAddr, spec.Prototype, spec.Inline, spec.NoReturn))
	}
	if len(lines) == 0 {
		lines = append(lines, "[gray]no call sites in this block[white]")
	}
	b.InfoView.Clear()
	b.InfoView.SetText(strings.Join(lines, "\n"))
}

// Run starts the browser's event loop.
func (b *Browser) Run() error {
	return b.App.SetRoot(b.Pages, true).SetFocus(b.BlockList).Run()
}

// Stop terminates the browser's event loop.
func (b *Browser) Stop() {
	b.App.Stop()
}
