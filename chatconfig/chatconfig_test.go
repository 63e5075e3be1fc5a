package chatconfig

import "testing"

func TestHashIsDeterministic(t *testing.T) {
	doc := []byte(`{"configId":"cfg1","services":[]}`)
	if Hash(doc) != Hash(doc) {
		t.Fatal("Hash should be deterministic for identical input")
	}
	if Hash(doc) == Hash([]byte(`{"configId":"cfg2","services":[]}`)) {
		t.Fatal("different documents should not collide")
	}
}

func TestRecordParse(t *testing.T) {
	r := Record{ConfigJSON: `{"configId":"cfg1","services":[{"serviceId":"hello","kind":"single_command","command":"hello","entry":"hello.js"}]}`}
	doc, err := r.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.ConfigID != "cfg1" || len(doc.Services) != 1 {
		t.Fatalf("got %+v", doc)
	}
}

func TestAllServicesPreservesOrderAndFoldsListeners(t *testing.T) {
	doc := Document{
		Services:  []ServiceEntry{{ServiceID: "a"}, {ServiceID: "b"}},
		Listeners: []ServiceEntry{{ServiceID: "c"}},
	}
	all := doc.AllServices()
	if len(all) != 3 || all[0].ServiceID != "a" || all[1].ServiceID != "b" || all[2].ServiceID != "c" {
		t.Fatalf("got %+v", all)
	}
}

func TestAllServicesNoListeners(t *testing.T) {
	doc := Document{Services: []ServiceEntry{{ServiceID: "a"}}}
	all := doc.AllServices()
	if len(all) != 1 || all[0].ServiceID != "a" {
		t.Fatalf("got %+v", all)
	}
}
