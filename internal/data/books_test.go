package data

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clms/library-api/internal/validator"
)

func TestAdjustAvailableCopies(t *testing.T) {
	tests := []struct {
		name      string
		available int
		oldTotal  int
		newTotal  int
		want      int
	}{
		{"grow adds to availability", 2, 5, 8, 5},
		{"shrink removes from availability", 5, 5, 3, 3},
		{"no change", 2, 5, 5, 2},
		{"shrink clamps at zero", 1, 5, 2, 0},
		{"shrink to zero total", 2, 5, 0, 0},
		{"all copies on loan, grow", 0, 3, 5, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AdjustAvailableCopies(tt.available, tt.oldTotal, tt.newTotal))
		})
	}
}

func TestBookOnLoan(t *testing.T) {
	book := &Book{TotalCopies: 5, AvailableCopies: 2}
	assert.Equal(t, 3, book.OnLoan())

	book.AvailableCopies = 5
	assert.Equal(t, 0, book.OnLoan())
}

func TestValidateBook(t *testing.T) {
	valid := func() *Book {
		return &Book{
			Title:           "The Go Programming Language",
			ISBN:            "978-0134190440",
			TotalCopies:     5,
			AvailableCopies: 5,
			AuthorIDs:       []int64{1, 2},
			CategoryIDs:     []int64{3},
		}
	}

	t.Run("valid book passes", func(t *testing.T) {
		v := validator.New()
		ValidateBook(v, valid())
		assert.True(t, v.Valid())
	})

	t.Run("no isbn is allowed", func(t *testing.T) {
		book := valid()
		book.ISBN = ""
		v := validator.New()
		ValidateBook(v, book)
		assert.True(t, v.Valid())
	})

	tests := []struct {
		name    string
		mutate  func(*Book)
		wantKey string
	}{
		{"blank title", func(b *Book) { b.Title = "   " }, "title"},
		{"overlong title", func(b *Book) { b.Title = strings.Repeat("x", 501) }, "title"},
		{"short isbn", func(b *Book) { b.ISBN = "123" }, "isbn"},
		{"negative total", func(b *Book) { b.TotalCopies = -1 }, "total_copies"},
		{"negative available", func(b *Book) { b.AvailableCopies = -1 }, "available_copies"},
		{"available exceeds total", func(b *Book) { b.AvailableCopies = b.TotalCopies + 1 }, "available_copies"},
		{"duplicate author ids", func(b *Book) { b.AuthorIDs = []int64{1, 1} }, "author_ids"},
		{"duplicate category ids", func(b *Book) { b.CategoryIDs = []int64{3, 3} }, "category_ids"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			book := valid()
			tt.mutate(book)
			v := validator.New()
			ValidateBook(v, book)
			assert.Contains(t, v.Errors, tt.wantKey)
		})
	}
}
