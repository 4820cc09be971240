package board

import (
	"fmt"
	mathrand "math/rand"
)

var identityAdjectives = []string{
	"Anonymous", "Brave", "Clever", "Daring", "Eager", "Fancy", "Gentle",
	"Happy", "Jolly", "Kind", "Lively", "Merry", "Nice", "Polite", "Quiet",
	"Rapid", "Silly", "Tidy", "Witty", "Zesty",
}

var identityAnimals = []string{
	"Panda", "Fox", "Eagle", "Badger", "Bear", "Cat", "Dog", "Dolphin",
	"Falcon", "Giraffe", "Hawk", "Iguana", "Koala", "Lion", "Monkey",
	"Owl", "Penguin", "Rabbit", "Tiger", "Wolf",
}

var identityColors = []string{
	"#EC5E41", "#F29F05", "#F2CB05", "#04BF9D", "#038C7F", "#5D3FD3", "#FF69B4",
}

// Identity is how the local user appears to others. It is passed to the
// components that broadcast it, and is not global.
type Identity struct {
	Name  string `json:"name" toml:"name"`
	Color string `json:"color" toml:"color"`
}

func NewRandomIdentity() Identity {
	return Identity{
		Name:  RandomName(),
		Color: RandomColor(),
	}
}

func RandomName() string {
	adjective := identityAdjectives[mathrand.Intn(len(identityAdjectives))]
	animal := identityAnimals[mathrand.Intn(len(identityAnimals))]
	return fmt.Sprintf("%s %s", adjective, animal)
}

func RandomColor() string {
	return identityColors[mathrand.Intn(len(identityColors))]
}

// Complete fills missing fields with random values.
func (self Identity) Complete() Identity {
	if self.Name == "" {
		self.Name = RandomName()
	}
	if self.Color == "" {
		self.Color = RandomColor()
	}
	return self
}
