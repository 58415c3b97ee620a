package card

import (
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		ctx     context.Context
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		ctx = context.Background()
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			name string
			key  string
			err  error
		)

		BeforeEach(func() {
			name = "card.jpg"
		})

		JustBeforeEach(func() {
			key, err = storage.Save(ctx, name, []byte("card image"))
		})

		When("saving succeeds", func() {
			It("should return the name as key", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(key).To(Equal(name))
			})

			It("should save the file to disk", func() {
				Expect(filepath.Join(tmpDir, name)).To(BeAnExistingFile())
			})
		})

		When("the name escapes the directory", func() {
			BeforeEach(func() {
				name = "../outside.jpg"
			})

			It("returns the error", func() {
				Expect(err).To(MatchError(ContainSubstring("invalid storage key")))
			})
		})
	})

	Describe("Get", func() {
		It("should return saved data", func() {
			_, err := storage.Save(ctx, "card.jpg", []byte("card image"))
			Expect(err).NotTo(HaveOccurred())

			data, err := storage.Get(ctx, "card.jpg")
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("card image"))
		})

		It("returns the error for missing files", func() {
			_, err := storage.Get(ctx, "nonexistent.jpg")
			Expect(err).To(MatchError(ContainSubstring("reading file")))
		})

		It("should refuse absolute paths", func() {
			_, err := storage.Get(ctx, "/etc/passwd")
			Expect(err).To(MatchError(ContainSubstring("invalid storage key")))
		})
	})

	Describe("Delete", func() {
		It("should remove the file", func() {
			_, err := storage.Save(ctx, "card.jpg", []byte("card image"))
			Expect(err).NotTo(HaveOccurred())

			Expect(storage.Delete(ctx, "card.jpg")).To(Succeed())
			Expect(filepath.Join(tmpDir, "card.jpg")).NotTo(BeAnExistingFile())
		})

		It("returns the error for missing files", func() {
			Expect(storage.Delete(ctx, "nonexistent.jpg")).To(MatchError(ContainSubstring("deleting file")))
		})
	})

	Describe("NewLocalStorage", func() {
		It("should create a missing directory", func() {
			path := filepath.Join(GinkgoT().TempDir(), "cards")
			_, err := NewLocalStorage(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(path).To(BeADirectory())
		})
	})
})
