package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"

	cl "animewife/internal/cli"
	"animewife/internal/images"
	"animewife/internal/wife"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	neutral     = color.New(color.FgHiWhite)
	muted       = color.New(color.FgHiBlack)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptOptional(label string) (string, error) {
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func promptDefault(label, def string) (string, error) {
	fmt.Printf("%s [%s]: ", label, def)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return def, nil
	}
	return text, nil
}

// promptSecret reads without echo on a terminal and falls back to a plain
// line read when stdin is piped.
func promptSecret(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptOptional(label)
	}
	fmt.Printf("%s: ", label)
	raw, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func renderReplies(res cl.SayResult) {
	if len(res.Replies) == 0 {
		muted.Println("(no reply: the bot did not recognise a command)")
		return
	}
	for _, r := range res.Replies {
		printInfo(r.Text)
		switch {
		case r.ImageURL != "":
			accent.Printf("  image: %s\n", r.ImageURL)
		case r.Image != "":
			accent.Printf("  image: %s\n", r.Image)
		}
	}
}

func entryLine(e wife.EntryView, today int) string {
	name := "(empty)"
	if e.Image != "" {
		name = images.DisplayName(e.Image)
	}
	if e.Note != "" {
		name += " (" + e.Note + ")"
	}
	if e.Slot == today {
		name += " [today]"
	}
	return name
}

func renderBackpack(v wife.BackpackView) {
	owner := v.OwnerNick
	if owner == "" {
		owner = v.Owner
	}
	accent.Printf("\n== %s's backpack (%d/%d) ==\n", owner, v.Used, v.Size)
	for _, e := range v.Items {
		line := fmt.Sprintf("%2d. %s", e.Slot, entryLine(e, v.TodaySlot))
		if e.Image == "" {
			muted.Println(line)
			continue
		}
		printInfo(line)
	}
	if v.Temporary.Image != "" {
		warn.Printf("%2d. %s (temporary)\n", v.Temporary.Slot, entryLine(v.Temporary, v.TodaySlot))
	}
	fmt.Println()
}

func renderTrades(list wife.TradeListing) {
	accent.Println("\n== TRADE REQUESTS ==")
	if len(list.Sent) == 0 && len(list.Received) == 0 {
		printInfo("No trade requests.")
		return
	}
	for _, t := range list.Sent {
		printInfo(fmt.Sprintf("sent:     your slot %d for %s's slot %d", t.OfferSlot, nameOr(t.TargetNick, t.Target), t.WantSlot))
	}
	for _, t := range list.Received {
		success.Printf("received: %s offers slot %d for your slot %d\n", nameOr(t.InitiatorNick, t.Initiator), t.OfferSlot, t.WantSlot)
	}
	fmt.Println()
}

func nameOr(nick, id string) string {
	if strings.TrimSpace(nick) != "" {
		return nick
	}
	return id
}
