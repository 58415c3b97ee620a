package card

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Server", func() {
	var (
		kv          *mockKV
		scanner     *mockScanner
		storage     *mockStorage
		store       *Store
		service     *Service
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		server := NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		anyPath := regexp.MustCompile(".*")
		for _, method := range []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"} {
			ghttpServer.RouteToHandler(method, anyPath, server.ServeHTTP)
		}
	}

	do := func(method, path string, body io.Reader) *http.Response {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decode := func(resp *http.Response, v any) {
		defer resp.Body.Close()
		Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
	}

	jsonBody := func(v any) io.Reader {
		data, err := json.Marshal(v)
		Expect(err).NotTo(HaveOccurred())
		return bytes.NewReader(data)
	}

	create := func(draft Draft) string {
		id, err := store.Create(context.Background(), draft)
		Expect(err).NotTo(HaveOccurred())
		return id
	}

	BeforeEach(func() {
		kv = newMockKV()
		scanner = newMockScanner()
		storage = newMockStorage()
		store = NewStoreWithDeps(kv, &mockIDGenerator{prefix: "id-"}, &mockTimeSource{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)}, time.Second)
		service = NewServiceWithDeps(store, scanner, storage, NewUsageCounter(kv, 800, time.Second), &mockIDGenerator{prefix: "img-"})
		auth = BasicAuth{}
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
			ghttpServer = nil
		}
	})

	Describe("handleIndex", func() {
		It("should serve the HTML page", func() {
			resp := do("GET", "/", nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("Card Keeper"))
		})

		It("should reject other methods", func() {
			resp := do("POST", "/", nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			resp := do("OPTIONS", "/api/contacts", nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("handleScan", func() {
		upload := func(fields map[string]string) *http.Response {
			body := &bytes.Buffer{}
			writer := multipart.NewWriter(body)
			part, err := writer.CreateFormFile("file", "card.jpg")
			Expect(err).NotTo(HaveOccurred())
			_, err = part.Write([]byte("fake image data"))
			Expect(err).NotTo(HaveOccurred())
			for k, v := range fields {
				Expect(writer.WriteField(k, v)).To(Succeed())
			}
			Expect(writer.Close()).To(Succeed())

			req, err := http.NewRequest("POST", ghttpServer.URL()+"/api/scan", body)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", writer.FormDataContentType())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		When("the card has text", func() {
			It("should return the extracted draft", func() {
				resp := upload(nil)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var result ScanResult
				decode(resp, &result)
				Expect(result.Draft.Name).To(Equal("abc"))
				Expect(result.Draft.PhoneNumber).To(Equal("4155552671"))
				Expect(result.Usage).To(Equal(1))
			})

			It("should keep the image when asked", func() {
				resp := upload(map[string]string{"keep": "true"})
				var result ScanResult
				decode(resp, &result)
				Expect(result.Draft.ImagePath).To(Equal("img-1_card.jpg"))
				Expect(storage.files).To(HaveKey("img-1_card.jpg"))
			})
		})

		When("the card has no text", func() {
			BeforeEach(func() {
				scanner.text = ""
			})

			It("should say so", func() {
				resp := upload(nil)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var body map[string]any
				decode(resp, &body)
				Expect(body).To(HaveKeyWithValue("noText", true))
				Expect(body).To(HaveKeyWithValue("message", "No text detected"))
			})
		})

		When("OCR fails", func() {
			BeforeEach(func() {
				scanner.scanErr = errors.New("quota exhausted")
			})

			It("should return bad gateway", func() {
				resp := upload(nil)
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
			})
		})

		When("no file is sent", func() {
			It("should return bad request", func() {
				body := &bytes.Buffer{}
				writer := multipart.NewWriter(body)
				Expect(writer.WriteField("keep", "true")).To(Succeed())
				Expect(writer.Close()).To(Succeed())
				req, err := http.NewRequest("POST", ghttpServer.URL()+"/api/scan", body)
				Expect(err).NotTo(HaveOccurred())
				req.Header.Set("Content-Type", writer.FormDataContentType())
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("handleUsage", func() {
		It("should report the counter", func() {
			kv.values[usageKey] = []byte("801")
			resp := do("GET", "/api/usage", nil)
			var body map[string]any
			decode(resp, &body)
			Expect(body).To(HaveKeyWithValue("usage", BeNumerically("==", 801)))
			Expect(body).To(HaveKeyWithValue("quotaWarning", true))
		})
	})

	Describe("handleCreateContact", func() {
		It("should create the contact", func() {
			resp := do("POST", "/api/contacts", jsonBody(Draft{Name: "abc", PhoneNumber: "4155552671"}))
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var body map[string]string
			decode(resp, &body)
			Expect(body).To(HaveKeyWithValue("id", "id-1"))
			Expect(store.List(context.Background())).To(HaveLen(1))
		})

		It("should reject a draft without a phone number", func() {
			resp := do("POST", "/api/contacts", jsonBody(Draft{Name: "abc"}))
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(store.List(context.Background())).To(BeEmpty())
		})

		It("should reject an image key that was never uploaded", func() {
			resp := do("POST", "/api/contacts", jsonBody(Draft{Name: "abc", PhoneNumber: "1", ImagePath: "never-uploaded.jpg"}))
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(store.List(context.Background())).To(BeEmpty())
		})

		It("should reject malformed JSON", func() {
			resp := do("POST", "/api/contacts", bytes.NewReader([]byte("{")))
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should return internal server error when the write fails", func() {
			kv.setErr = errors.New("disk full")
			resp := do("POST", "/api/contacts", jsonBody(Draft{Name: "abc", PhoneNumber: "1"}))
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("handleListContacts", func() {
		BeforeEach(func() {
			create(Draft{Name: "Alice", PhoneNumber: "1", Company: "Initech"})
			create(Draft{Name: "Bob", PhoneNumber: "2"})
		})

		It("should list newest first", func() {
			resp := do("GET", "/api/contacts", nil)
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
			var contacts []Contact
			decode(resp, &contacts)
			Expect(contacts).To(HaveLen(2))
			Expect(contacts[0].Name).To(Equal("Bob"))
		})

		It("should search with q", func() {
			resp := do("GET", "/api/contacts?q=initech", nil)
			var contacts []Contact
			decode(resp, &contacts)
			Expect(contacts).To(HaveLen(1))
			Expect(contacts[0].Name).To(Equal("Alice"))
		})

		It("should return an empty array when nothing matches", func() {
			resp := do("GET", "/api/contacts?q=zzz", nil)
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(MatchJSON("[]"))
		})
	})

	Describe("contact routes", func() {
		var id string

		BeforeEach(func() {
			id = create(Draft{Name: "abc", PhoneNumber: "4155552671"})
		})

		It("should get a contact", func() {
			resp := do("GET", "/api/contacts/"+id, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var c Contact
			decode(resp, &c)
			Expect(c.ID).To(Equal(id))
		})

		It("should return not found for unknown ids", func() {
			resp := do("GET", "/api/contacts/nope", nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should toggle edit mode", func() {
			resp := do("POST", "/api/contacts/"+id+"/edit", nil)
			var c Contact
			decode(resp, &c)
			Expect(c.Editing).To(BeTrue())
		})

		It("should commit an edit", func() {
			resp := do("PUT", "/api/contacts/"+id, jsonBody(Draft{Name: "xyz", PhoneNumber: "2125550199", Company: "Globex"}))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var c Contact
			decode(resp, &c)
			Expect(c.Name).To(Equal("xyz"))
			Expect(c.Company).To(Equal("Globex"))
		})

		It("should reset edit mode everywhere", func() {
			_, err := store.ToggleEdit(context.Background(), id)
			Expect(err).NotTo(HaveOccurred())

			resp := do("POST", "/api/contacts/reset-editing", nil)
			var body map[string]int
			decode(resp, &body)
			Expect(body).To(HaveKeyWithValue("cleared", 1))
		})

		It("should delete a contact", func() {
			resp := do("DELETE", "/api/contacts/"+id, nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(store.List(context.Background())).To(BeEmpty())
		})

		It("should export a contact", func() {
			resp := do("GET", "/api/contacts/"+id+"/export", nil)
			var entry AddressBookEntry
			decode(resp, &entry)
			Expect(entry.LastName).To(Equal("a"))
			Expect(entry.FirstName).To(Equal("bc"))
			Expect(entry.DialURI).To(Equal("tel:4155552671"))
		})

		It("should return not found for a contact without an image", func() {
			resp := do("GET", "/api/contacts/"+id+"/image", nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "user", Password: "pass"}
			setupServer()
		})

		It("should reject requests without credentials", func() {
			resp := do("GET", "/api/contacts", nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
		})

		It("should accept valid credentials", func() {
			req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/contacts", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("user:pass")))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})
})
