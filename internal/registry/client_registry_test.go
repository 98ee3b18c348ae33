package registry

import "testing"

func TestClientRegistryAddRemoveCount(t *testing.T) {
	r := NewClientRegistry()
	c := NewClient("c1", "Kitchen", 8)
	r.Add(c)

	if r.Count() != 1 {
		t.Fatalf("expected count 1, got %d", r.Count())
	}
	if _, ok := r.Get("c1"); !ok {
		t.Fatal("expected client c1 to be present")
	}

	removed := r.Remove("c1")
	if removed == nil || removed.ID != "c1" {
		t.Fatalf("expected removed client c1, got %+v", removed)
	}
	if r.Count() != 0 {
		t.Fatalf("expected count 0 after remove, got %d", r.Count())
	}
}

func TestClientIsPlayerAndHasRole(t *testing.T) {
	c := NewClient("c1", "Kitchen", 8)
	c.ActiveRoles = []string{"player@v1", "metadata@v1"}

	if !c.IsPlayer() {
		t.Error("expected IsPlayer true for player@v1")
	}
	if !c.HasRole("player") {
		t.Error("expected HasRole(\"player\") to match versioned role")
	}
	if c.HasRole("controller") {
		t.Error("expected HasRole(\"controller\") to be false")
	}
}

func TestBroadcastAudioOnlyReachesPlayers(t *testing.T) {
	r := NewClientRegistry()
	player := NewClient("player1", "Player", 4)
	player.ActiveRoles = []string{"player@v1"}
	controller := NewClient("ctrl1", "Controller", 4)
	controller.ActiveRoles = []string{"controller@v1"}
	r.Add(player)
	r.Add(controller)

	r.BroadcastAudio([]byte{0x04, 0x01})

	select {
	case out := <-player.Send():
		if out.Kind != OutboundBinary {
			t.Error("expected binary outbound to player")
		}
	default:
		t.Error("expected player to receive audio chunk")
	}

	select {
	case <-controller.Send():
		t.Error("controller should not receive audio chunk")
	default:
	}
}

func TestSendNonBlockingDropsWhenQueueFull(t *testing.T) {
	c := NewClient("c1", "Kitchen", 1)
	if !c.sendNonBlocking(Outbound{Kind: OutboundText, Text: []byte("1")}) {
		t.Fatal("expected first send to succeed")
	}
	if c.sendNonBlocking(Outbound{Kind: OutboundText, Text: []byte("2")}) {
		t.Fatal("expected second send to be dropped when queue is full")
	}
}

func TestUpdateAudioFormatAndVolume(t *testing.T) {
	r := NewClientRegistry()
	c := NewClient("c1", "Kitchen", 4)
	r.Add(c)

	if r.AudioFormat("c1") != nil {
		t.Error("expected nil format before negotiation")
	}

	r.UpdateVolume("c1", 42, true)
	got, _ := r.Get("c1")
	if got.Volume != 42 || !got.Muted {
		t.Errorf("expected volume 42/muted true, got %d/%v", got.Volume, got.Muted)
	}
}
