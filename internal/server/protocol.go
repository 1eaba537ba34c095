// Package server defines the wire strings of the line protocol and helpers
// for formatting them.
package server

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Negotiation prompts. They carry no trailing newline.
const (
	PromptName = "Enter your name: "
	PromptRoom = "Enter room name: "
)

// Fixed server replies.
const (
	NameTakenNotice  = "Name already taken in this room. Disconnecting...\n"
	ServerFullNotice = "Server is full. Disconnecting...\n"
	HelpText         = "\nAvailable commands:\n/users - Show users in room\n/help - Show this help\n/quit - Leave chat\n\n"

	userListHeader = "\n=== Users in this room ===\n"
	userListFooter = "========================\n"
)

// Commands recognized case-sensitively in the active state.
const (
	CommandUsers = "/users"
	CommandHelp  = "/help"
	CommandQuit  = "/quit"
)

// JoinAnnouncement is broadcast to the room once a connection is admitted.
func JoinAnnouncement(name, room string) string {
	return fmt.Sprintf("%s has joined the room '%s'\n", name, room)
}

// WelcomeLine is sent only to the newly admitted connection.
func WelcomeLine(room string) string {
	return fmt.Sprintf("Welcome to room '%s'! Type '/users' to see who's here, '/help' for commands.\n", room)
}

// ChatLine frames a relayed chat message.
func ChatLine(name, text string) string {
	return fmt.Sprintf("[%s]: %s\n", name, text)
}

// LeaveNotice is broadcast after /quit.
func LeaveNotice(name string) string {
	return name + " has left the room\n"
}

// DisconnectNotice is broadcast when the peer closes its end.
func DisconnectNotice(name string) string {
	return name + " has disconnected\n"
}

// FormatUserList renders the /users reply block.
func FormatUserList(names []string) string {
	var b strings.Builder
	b.WriteString(userListHeader)
	for _, name := range names {
		b.WriteString("- ")
		b.WriteString(name)
		b.WriteByte('\n')
	}
	b.WriteString(userListFooter)
	return b.String()
}

// truncateIdentity cuts s to at most limit bytes without splitting a rune.
func truncateIdentity(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
