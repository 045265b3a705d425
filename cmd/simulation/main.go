package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/fatih/color"

	"collab-editing-be/internal/assistant"
	"collab-editing-be/internal/bootstrap"
	"collab-editing-be/internal/config"
	"collab-editing-be/internal/model"
	"collab-editing-be/internal/session"
)

// Two peers edit the same document concurrently, then the assistant joins
// and applies an edit of its own. The transport comes from COLLAB_TRANSPORT;
// the default in-process channel backend needs no broker.
func main() {
	ctx := context.Background()

	// 1. Load Configuration and assemble the container
	cfg := config.Load()
	container := bootstrap.NewContainer(cfg)
	defer container.Close()

	alice := color.New(color.FgCyan)
	bob := color.New(color.FgGreen)
	robot := color.New(color.FgMagenta)
	head := color.New(color.Bold)

	engineA := container.NewEngine()
	engineB := container.NewEngine()

	head.Println("== starting session ==")
	mustJoin(ctx, engineA, "design-doc", "Alice")
	mustJoin(ctx, engineB, "design-doc", "Bob")
	defer engineA.Leave()
	defer engineB.Leave()

	time.Sleep(200 * time.Millisecond) // let the roster exchange settle

	head.Println("== concurrent edits ==")
	const file = "notes.md"
	check(engineA.ApplyChange(file, 0, 0, "Hello from Alice. "))
	check(engineB.ApplyChange(file, 0, 0, "Bob was here. "))
	time.Sleep(300 * time.Millisecond)

	textA, _ := engineA.GetText(file)
	textB, _ := engineB.GetText(file)
	alice.Printf("alice sees: %q\n", textA)
	bob.Printf("bob sees:   %q\n", textB)
	if textA == textB {
		head.Println("documents converged")
	} else {
		head.Println("documents DIVERGED")
	}

	head.Println("== cursors, presence and comments ==")
	check(engineA.UpdateCursor(file, 0, 5))
	check(engineB.UpdateSelection(file, model.Position{Line: 0}, model.Position{Line: 0, Character: 3}))
	time.Sleep(100 * time.Millisecond)
	for _, p := range engineB.GetParticipants() {
		bob.Printf("bob's roster: %s (client %d, online=%v)\n", p.Name, p.ClientID, p.IsOnline)
	}

	presenceStore := container.NewPresenceStore()
	defer presenceStore.Dispose()
	presenceStore.UpdatePresence(engineA.ClientID(), model.PresenceOnline, file)
	presenceStore.UpdatePresence(engineB.ClientID(), model.PresenceOnline, file)
	presenceStore.RecordActivity(engineA.ClientID(), model.ActivityTyping, file)
	head.Printf("online participants: %v\n", presenceStore.GetOnlineParticipants())

	store := container.NewCommentStore(engineA.GetParticipant)
	self, _ := engineA.GetParticipant(engineA.ClientID())
	thread, err := store.CreateThread(file, model.Range{}, self, fmt.Sprintf("@%d what about the intro?", engineB.ClientID()))
	check(err)
	alice.Printf("alice opened thread %s with %d comment(s)\n", thread.ID, len(thread.Comments))

	head.Println("== assistant joins ==")
	ctrl := assistant.NewController(assistant.Options{Bus: container.Bus, Session: engineA})
	check(ctrl.Join())
	action, err := ctrl.ProposeEdit(file, nil, "\n(reviewed by the assistant)", "append a review note", 0.9)
	check(err)
	check(ctrl.ApplyAction(action.ID))
	time.Sleep(300 * time.Millisecond)

	textA, _ = engineA.GetText(file)
	textB, _ = engineB.GetText(file)
	robot.Printf("after assistant, alice sees: %q\n", textA)
	robot.Printf("after assistant, bob sees:   %q\n", textB)
	if textA == textB {
		head.Println("documents converged")
	}

	ctrl.Dispose()
	head.Println("== done ==")
}

func mustJoin(ctx context.Context, e *session.Engine, docID, name string) {
	_, err := e.StartOrJoin(ctx, session.Config{
		DocumentID:          docID,
		UserName:            name,
		EnablePeerTransport: true,
	})
	check(err)
}

func check(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
