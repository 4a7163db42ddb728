package rnet

// page is the status page. %s is the node name.
var page = `<html>
<head>
  <script>
    window.onload = function() {
      var ws = new WebSocket("ws://" + location.host + "/stream");
      ws.onmessage = function(event) {
        var ev = JSON.parse(event.data);
        if (ev.Record) {
          var r = ev.Record;
          document.getElementById("temp").textContent = r.Temp.toFixed(1) + "C";
          document.getElementById("humi").textContent = r.Humidity.toFixed(1) + "%%";
          document.getElementById("comfort").textContent = r.Comfort;
          document.getElementById("stamp").textContent = r.Timestamp;
        }
        if (ev.Actuators) {
          var a = ev.Actuators;
          if (a.Green !== null) document.getElementById("ledg").textContent = a.Green ? "ON" : "OFF";
          if (a.Red !== null) document.getElementById("ledr").textContent = a.Red ? "ON" : "OFF";
          var names = ["r", "g", "b"];
          for (var i = 0; i < 3; i++) {
            if (a.RGB[i] !== null) document.getElementById(names[i]).textContent = a.RGB[i];
          }
        }
      };
    };
  </script>
  <style>
  div {
    margin: auto;
    width: 610px;
  }
  .big {
    font-size: 6em;
  }
  </style>
</head>
<body style="background-color: black;color: white">
  <p style="font-size: 4em;">%s</p>
  <div>
    <p class="big"><span id="temp">-</span><br /><span id="humi">-</span></p>
    <p style="font-size: 3em;"><span id="comfort">-</span> <small id="stamp"></small></p>
    <p style="font-size: 2em;">Green: <span id="ledg">-</span> Red: <span id="ledr">-</span></p>
    <p style="font-size: 2em;">RGB: <span id="r">-</span> / <span id="g">-</span> / <span id="b">-</span></p>
  </div>
</body>
</html>`
